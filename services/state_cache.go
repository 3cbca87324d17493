package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"podfleet/internal/logger"
	"podfleet/internal/models"
)

/**
 * Save one service's runtime state to its cache file
 * @description
 * - One JSON file per service under <cacheDir>/services/
 * - The daemon reads these back on startup to reattach still-running units
 */
func saveServiceState(cacheDir string, state *models.RuntimeServiceState) {
	dir := filepath.Join(cacheDir, "services")
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Errorf("Service [%s/%s] save state failed, error: %v", state.Pod, state.Name, err)
		return
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logger.Errorf("Service [%s/%s] save state failed, error: %v", state.Pod, state.Name, err)
		return
	}

	cacheFile := filepath.Join(dir, state.Pod+"-"+state.Name+".json")
	if err := os.WriteFile(cacheFile, jsonData, 0644); err != nil {
		logger.Errorf("Service [%s/%s] save state failed, error: %v", state.Pod, state.Name, err)
		return
	}
}

// removeServiceState 服务被确认停止并回收后删除缓存条目
func removeServiceState(cacheDir, pod, name string) {
	cacheFile := filepath.Join(cacheDir, "services", pod+"-"+name+".json")
	if err := os.Remove(cacheFile); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Service [%s/%s] remove state cache failed: %v", pod, name, err)
	}
}

/**
 * Load all cached runtime states
 * @returns {[]models.RuntimeServiceState} States recorded by a previous daemon run
 */
func loadServiceStates(cacheDir string) []models.RuntimeServiceState {
	dir := filepath.Join(cacheDir, "services")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Failed to read state cache directory: %v", err)
		}
		return nil
	}

	var states []models.RuntimeServiceState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warnf("Failed to read state cache %s: %v", entry.Name(), err)
			continue
		}
		var state models.RuntimeServiceState
		if err := json.Unmarshal(raw, &state); err != nil {
			logger.Warnf("Failed to unmarshal state cache %s: %v", entry.Name(), err)
			continue
		}
		states = append(states, state)
	}
	return states
}
