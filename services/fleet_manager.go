package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"podfleet/internal/config"
	"podfleet/internal/env"
	"podfleet/internal/graph"
	"podfleet/internal/logger"
	"podfleet/internal/models"
	"podfleet/internal/runtime"
	"podfleet/internal/utils"
)

/**
 * FleetManager orchestrates every pod in the fleet: the four lifecycle verbs
 * with an optional pod target, the fleet-wide health sweep and the subnet
 * reservation table.
 * @description
 * - Cross-pod ordering comes from declared HARD dependencies only; soft
 *   dependencies are advisory and never block anything
 * - A pod that fails a verb never stops the sweep over the remaining pods
 */
type FleetManager struct {
	store    *DefinitionStore
	driver   runtime.Driver
	hs       *HealthSupervisor
	cfg      *config.OrchestratorConfig
	cacheDir string

	mu          sync.Mutex
	subnets     map[string]string // subnet -> owning pod
	controllers map[string]*PodController
	order       []string // fleet-level topological start order
}

var (
	fleetManager *FleetManager
	fleetMu      sync.Mutex
)

/**
 * GetFleetManager returns the process-wide fleet manager, creating it on
 * first use from the loaded configuration
 */
func GetFleetManager() (*FleetManager, error) {
	fleetMu.Lock()
	defer fleetMu.Unlock()

	if fleetManager != nil {
		return fleetManager, nil
	}
	store, err := LoadDefinitions(config.Config.Fleet.Manifest)
	if err != nil {
		return nil, err
	}
	driver, err := runtime.NewDockerDriver()
	if err != nil {
		return nil, err
	}
	hs := NewHealthSupervisor(&config.Config.Orchestrator)
	cacheDir := filepath.Join(env.PodfleetDir, "cache")
	hs.SetCacheDir(cacheDir)

	fm, err := NewFleetManager(store, driver, hs, &config.Config.Orchestrator)
	if err != nil {
		return nil, err
	}
	fm.cacheDir = cacheDir
	fleetManager = fm
	return fm, nil
}

func NewFleetManager(store *DefinitionStore, driver runtime.Driver,
	hs *HealthSupervisor, cfg *config.OrchestratorConfig) (*FleetManager, error) {

	fm := &FleetManager{
		store:       store,
		driver:      driver,
		hs:          hs,
		cfg:         cfg,
		subnets:     make(map[string]string),
		controllers: make(map[string]*PodController),
	}
	hs.SetExitStatusFunc(driver.ServiceExitStatus)
	for _, pod := range store.Pods() {
		g, err := store.PodGraph(pod)
		if err != nil {
			return nil, err
		}
		fm.controllers[pod.Name] = NewPodController(pod, g, driver, hs, cfg)
	}
	fg, err := store.FleetGraph()
	if err != nil {
		return nil, err
	}
	fm.order, err = fg.TopoOrder()
	if err != nil {
		return nil, err
	}
	return fm, nil
}

// Supervisor 暴露给守护进程做自检用
func (fm *FleetManager) Supervisor() *HealthSupervisor {
	return fm.hs
}

// ReserveSubnet pod启动前登记子网，和已登记的重叠时拒绝
func (fm *FleetManager) ReserveSubnet(pod string) error {
	spec := fm.store.Pod(pod)
	if spec == nil || spec.Network.Subnet == "" {
		return nil
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for subnet, owner := range fm.subnets {
		if owner == pod {
			continue
		}
		overlap, err := utils.SubnetsOverlap(subnet, spec.Network.Subnet)
		if err != nil {
			return err
		}
		if overlap {
			return &models.NetworkConflictError{Pod: pod, Subnet: spec.Network.Subnet, OtherPod: owner}
		}
	}
	fm.subnets[spec.Network.Subnet] = pod
	return nil
}

// ReleaseSubnet pod网络回收后释放登记
func (fm *FleetManager) ReleaseSubnet(pod string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for subnet, owner := range fm.subnets {
		if owner == pod {
			delete(fm.subnets, subnet)
		}
	}
}

// targetPods 解析verb的可选pod参数：空表示全舰队，按fleet拓扑序
func (fm *FleetManager) targetPods(target string) ([]string, error) {
	if target == "" {
		return fm.order, nil
	}
	if fm.store.Pod(target) == nil {
		return nil, fmt.Errorf("unknown pod %q", target)
	}
	return []string{target}, nil
}

/**
 * Start pods in fleet topological order
 * @param {string} target - Pod name, or empty for the whole fleet
 * @description
 * - A pod waits for each of its hard dependency pods to be fully healthy,
 *   bounded by dependency_timeout
 * - A hard dependency pod that already failed in this run blocks the
 *   dependent immediately, without burning the timeout
 * - Unhealthy soft dependency pods only produce warnings
 */
func (fm *FleetManager) Start(ctx context.Context, target string) (*models.FleetReport, error) {
	pods, err := fm.targetPods(target)
	if err != nil {
		return nil, err
	}
	report := &models.FleetReport{Action: "start"}
	failed := make(map[string]bool)

	for _, name := range pods {
		if blocked := fm.blockedHardDep(name, failed); blocked != "" {
			report.Pods = append(report.Pods, podFailure(name, "start",
				fmt.Errorf("blocked on pod %s", blocked)))
			failed[name] = true
			continue
		}
		if err := fm.waitHardDeps(ctx, name); err != nil {
			report.Pods = append(report.Pods, podFailure(name, "start", err))
			failed[name] = true
			continue
		}
		report.Warnings = append(report.Warnings, fm.softDepWarnings(name)...)

		if err := fm.ReserveSubnet(name); err != nil {
			report.Pods = append(report.Pods, podFailure(name, "start", err))
			failed[name] = true
			continue
		}
		podReport, err := fm.controllers[name].Start(ctx)
		if err != nil {
			report.Pods = append(report.Pods, podFailure(name, "start", err))
			failed[name] = true
			continue
		}
		report.Pods = append(report.Pods, podReport)
		if !podReport.Ok() {
			failed[name] = true
		}
	}
	recordOperation("start", report.Ok())
	return report, nil
}

// blockedHardDep 返回本轮已失败的硬依赖pod，没有则返回空串
func (fm *FleetManager) blockedHardDep(pod string, failed map[string]bool) string {
	for _, dep := range fm.store.HardDependencies(pod) {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// waitHardDeps 等硬依赖的pod整体健康，超时即失败
func (fm *FleetManager) waitHardDeps(ctx context.Context, pod string) error {
	for _, dep := range fm.store.HardDependencies(pod) {
		if err := fm.WaitPodHealthy(ctx, dep, fm.cfg.DependencyTimeout); err != nil {
			return &models.DependencyTimeoutError{
				Pod: pod, Service: "*", Dependency: "pod " + dep,
				Timeout: fm.cfg.DependencyTimeout,
			}
		}
	}
	return nil
}

// softDepWarnings 软依赖只产生告警，从不阻塞
func (fm *FleetManager) softDepWarnings(pod string) []string {
	var warnings []string
	for _, dep := range fm.store.SoftDependencies(pod) {
		depPod := fm.store.Pod(dep)
		if depPod == nil || fm.hs.PodHealthy(depPod) {
			continue
		}
		msg := fmt.Sprintf("pod %s: soft dependency %s is not healthy", pod, dep)
		logger.Warnf("%s", msg)
		warnings = append(warnings, msg)
	}
	return warnings
}

/**
 * Stop pods in reverse fleet order, best effort
 */
func (fm *FleetManager) Stop(ctx context.Context, target string) (*models.FleetReport, error) {
	pods, err := fm.targetPods(target)
	if err != nil {
		return nil, err
	}
	report := &models.FleetReport{Action: "stop"}
	for _, name := range graph.Reverse(pods) {
		podReport, err := fm.controllers[name].Stop(ctx)
		if err != nil {
			report.Pods = append(report.Pods, podFailure(name, "stop", err))
			continue
		}
		report.Pods = append(report.Pods, podReport)
	}
	recordOperation("stop", report.Ok())
	return report, nil
}

/**
 * Restart: full stop in reverse order, quiesce, full start in order
 */
func (fm *FleetManager) Restart(ctx context.Context, target string) (*models.FleetReport, error) {
	report := &models.FleetReport{Action: "restart"}

	stopReport, err := fm.Stop(ctx, target)
	if err != nil {
		return nil, err
	}
	report.Pods = append(report.Pods, stopReport.Pods...)

	select {
	case <-ctx.Done():
		return report, ctx.Err()
	case <-time.After(fm.cfg.QuiesceDelay):
	}

	startReport, err := fm.Start(ctx, target)
	if err != nil {
		return report, err
	}
	report.Pods = append(report.Pods, startReport.Pods...)
	report.Warnings = append(report.Warnings, startReport.Warnings...)
	recordOperation("restart", report.Ok())
	return report, nil
}

/**
 * Build pods in fleet order: each pod is stopped, rebuilt atomically and
 * started again; a failed build aborts that pod before any start
 */
func (fm *FleetManager) Build(ctx context.Context, target string) (*models.FleetReport, error) {
	pods, err := fm.targetPods(target)
	if err != nil {
		return nil, err
	}
	report := &models.FleetReport{Action: "build"}
	failed := make(map[string]bool)

	for _, name := range pods {
		if blocked := fm.blockedHardDep(name, failed); blocked != "" {
			report.Pods = append(report.Pods, podFailure(name, "build",
				fmt.Errorf("blocked on pod %s", blocked)))
			failed[name] = true
			continue
		}
		if err := fm.ReserveSubnet(name); err != nil {
			report.Pods = append(report.Pods, podFailure(name, "build", err))
			failed[name] = true
			continue
		}
		podReport, err := fm.controllers[name].Build(ctx)
		if err != nil {
			report.Pods = append(report.Pods, podFailure(name, "build", err))
			failed[name] = true
			continue
		}
		report.Pods = append(report.Pods, podReport)
		if !podReport.Ok() {
			failed[name] = true
		}
	}
	recordOperation("build", report.Ok())
	return report, nil
}

// Status 纯读，返回目标pod的状态快照
func (fm *FleetManager) Status(target string) ([]*models.PodStatus, error) {
	pods, err := fm.targetPods(target)
	if err != nil {
		return nil, err
	}
	var statuses []*models.PodStatus
	for _, name := range pods {
		statuses = append(statuses, fm.controllers[name].Status())
	}
	return statuses, nil
}

/**
 * Health runs one active probe sweep across every known service,
 * concurrently, and aggregates the results
 * @description Never mutates lifecycle state; the supervisor's own cadence
 * stays authoritative
 */
func (fm *FleetManager) Health(ctx context.Context) *models.FleetHealthReport {
	report := &models.FleetHealthReport{Timestamp: time.Now()}

	type slot struct {
		pod string
		svc *models.ServiceSpecification
	}
	var slots []slot
	for _, pod := range fm.store.Pods() {
		for i := range pod.Services {
			slots = append(slots, slot{pod: pod.Name, svc: &pod.Services[i]})
		}
	}

	results := make([]models.ServiceHealthResult, len(slots))
	var wg sync.WaitGroup
	for i, s := range slots {
		wg.Add(1)
		go func(i int, s slot) {
			defer wg.Done()
			results[i] = fm.hs.ProbeNow(ctx, s.pod, s.svc)
		}(i, s)
	}
	wg.Wait()

	report.Services = results
	report.AllHealthy = true
	for _, res := range results {
		if !res.Healthy {
			report.AllHealthy = false
		}
	}
	for _, pod := range fm.store.Pods() {
		report.Warnings = append(report.Warnings, fm.softDepWarnings(pod.Name)...)
	}
	return report
}

// Logs 返回单个服务的日志尾部
func (fm *FleetManager) Logs(ctx context.Context, pod, service string, tail int) (string, error) {
	ctrl, exist := fm.controllers[pod]
	if !exist {
		return "", fmt.Errorf("unknown pod %q", pod)
	}
	return ctrl.Logs(ctx, service, tail)
}

// Clean 回收目标pod的容器、具名卷和网络，要求pod已停止
func (fm *FleetManager) Clean(ctx context.Context, target string) error {
	pods, err := fm.targetPods(target)
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range graph.Reverse(pods) {
		if err := fm.controllers[name].Clean(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fm.ReleaseSubnet(name)
	}
	return firstErr
}

/**
 * WaitPodHealthy blocks until every service of the pod is HEALTHY
 */
func (fm *FleetManager) WaitPodHealthy(ctx context.Context, pod string, timeout time.Duration) error {
	spec := fm.store.Pod(pod)
	if spec == nil {
		return fmt.Errorf("unknown pod %q", pod)
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		if fm.hs.PodHealthy(spec) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-poll.C:
		}
	}
}

/**
 * Reattach re-adopts services left running by a previous daemon instance
 * @description
 * - Cached states whose runtime unit is still running go back under
 *   supervision with their restart counters intact
 * - Stale entries (unit gone) are marked stopped and their cache removed
 */
func (fm *FleetManager) Reattach(ctx context.Context) {
	if fm.cacheDir == "" {
		return
	}
	for _, state := range loadServiceStates(fm.cacheDir) {
		pod := fm.store.Pod(state.Pod)
		if pod == nil || pod.Service(state.Name) == nil {
			removeServiceState(fm.cacheDir, state.Pod, state.Name)
			continue
		}
		running, err := fm.driver.ServiceRunning(ctx, state.Pod, state.Name)
		if err != nil {
			logger.Warnf("Service [%s/%s] reattach probe failed: %v", state.Pod, state.Name, err)
			continue
		}
		if !running {
			if state.State.Active() {
				logger.Infof("Service [%s/%s] is gone, dropping cached state", state.Pod, state.Name)
			}
			removeServiceState(fm.cacheDir, state.Pod, state.Name)
			continue
		}

		podName, svcName := state.Pod, state.Name
		svc := pod.Service(svcName)
		fm.ReserveSubnet(podName)
		fm.hs.Adopt(podName, svc, func(rctx context.Context) error {
			return fm.driver.StartService(rctx, podName, podName, svc)
		}, state.Restarts)
		logger.Infof("Service [%s/%s] reattached", podName, svcName)
	}
}

// podFailure pod级致命错误合成单条失败记录，保持报告结构一致
func podFailure(pod, action string, err error) *models.PodReport {
	return &models.PodReport{
		Pod:    pod,
		Action: action,
		Results: []models.ServiceActionResult{{
			Pod: pod, Action: action,
			Outcome: models.OutcomeFailed, Error: err.Error(),
		}},
	}
}
