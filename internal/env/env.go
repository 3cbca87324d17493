package env

import (
	"os"
	"path/filepath"
)

var Daemon bool = false

// (default: %USERPROFILE%/.podfleet on Windows, $HOME/.podfleet on Linux)
var PodfleetDir string = GetPodfleetDir()

/**
 * Get podfleet directory path
 * @returns {string} Returns podfleet directory path
 */
func GetPodfleetDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".podfleet")
}
