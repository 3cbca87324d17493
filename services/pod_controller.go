package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"podfleet/internal/config"
	"podfleet/internal/graph"
	"podfleet/internal/logger"
	"podfleet/internal/models"
	"podfleet/internal/runtime"
)

/**
 * PodController drives the lifecycle of one pod: ordered concurrent starts,
 * reverse best-effort stops, stop-build-start rebuilds and pure status reads.
 * @description
 * - Fatal errors (network provisioning, unresolvable graph) abort the verb
 * - Per-service action failures never abort it: partial success is reported
 *   through the PodReport, service by service
 */
type PodController struct {
	pod    *models.PodSpecification
	graph  *graph.Graph
	driver runtime.Driver
	hs     *HealthSupervisor
	cfg    *config.OrchestratorConfig
}

func NewPodController(pod *models.PodSpecification, g *graph.Graph,
	driver runtime.Driver, hs *HealthSupervisor, cfg *config.OrchestratorConfig) *PodController {
	return &PodController{pod: pod, graph: g, driver: driver, hs: hs, cfg: cfg}
}

/**
 * Start the pod: provision its network, then start every service in
 * dependency order
 * @returns {*models.PodReport} Per-service breakdown, declaration order
 * @returns {error} Only fatal errors; individual start failures land in the report
 * @description
 * - Independent services start concurrently, capped by max_parallel_starts
 * - A service waits for each hard dependency to turn HEALTHY, bounded by
 *   dependency_timeout; a dependency that fails or times out blocks its
 *   dependents but never the rest of the pod
 * - Re-running start on a live pod is idempotent: running units are left alone
 */
func (pc *PodController) Start(ctx context.Context) (*models.PodReport, error) {
	report := &models.PodReport{Pod: pc.pod.Name, Action: "start"}

	if err := pc.driver.EnsureNetwork(ctx, runtime.NetworkSpec{
		Name:     pc.pod.Name,
		Subnet:   pc.pod.Network.Subnet,
		Internal: pc.pod.Network.Internal,
	}); err != nil {
		return nil, fmt.Errorf("pod %s: network provisioning failed: %w", pc.pod.Name, err)
	}

	order, err := pc.graph.TopoOrder()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[string]*models.ServiceActionResult, len(order))
	done := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		done[name] = make(chan struct{})
	}
	sem := make(chan struct{}, pc.cfg.MaxParallelStarts)

	var wg sync.WaitGroup
	for _, name := range order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res := pc.startService(ctx, name, done, results, &mu, sem)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			close(done[name])
		}(name)
	}
	wg.Wait()

	for _, name := range order {
		report.Results = append(report.Results, *results[name])
	}
	return report, nil
}

// startService 单个服务的start流程：等依赖、限并发、下发动作、交给监护
func (pc *PodController) startService(ctx context.Context, name string,
	done map[string]chan struct{}, results map[string]*models.ServiceActionResult,
	mu *sync.Mutex, sem chan struct{}) *models.ServiceActionResult {

	res := &models.ServiceActionResult{Pod: pc.pod.Name, Service: name, Action: "start"}
	svc := pc.pod.Service(name)

	// 幂等重入：已在运行或正在启动的单元保持原样，不打断它的监护
	if state, tracked := pc.hs.Snapshot(pc.pod.Name, name); tracked &&
		(state.State == models.StateHealthy || state.State == models.StateStarting) {
		res.Outcome = models.OutcomeSkipped
		return res
	}

	for _, dep := range pc.graph.Dependencies(name) {
		select {
		case <-ctx.Done():
			res.Outcome = models.OutcomeCancelled
			res.Error = ctx.Err().Error()
			return res
		case <-done[dep]:
		}
		mu.Lock()
		depOutcome := results[dep].Outcome
		mu.Unlock()
		// skipped的依赖已经在运行，健康与否由下面的等待把关
		if depOutcome != models.OutcomeOK && depOutcome != models.OutcomeSkipped {
			res.Outcome = models.OutcomeBlocked
			res.Error = "blocked on " + dep
			return res
		}
		if err := pc.hs.WaitHealthy(ctx, pc.pod.Name, dep, pc.cfg.DependencyTimeout); err != nil {
			switch {
			case errors.Is(err, ErrDependencyUnhealthy):
				res.Outcome = models.OutcomeBlocked
				res.Error = "blocked on " + dep
			case errors.Is(err, ErrWaitTimeout):
				res.Outcome = models.OutcomeTimeout
				res.Error = (&models.DependencyTimeoutError{
					Pod: pc.pod.Name, Service: name, Dependency: dep,
					Timeout: pc.cfg.DependencyTimeout,
				}).Error()
			default:
				res.Outcome = models.OutcomeCancelled
				res.Error = err.Error()
			}
			return res
		}
	}

	select {
	case <-ctx.Done():
		res.Outcome = models.OutcomeCancelled
		res.Error = ctx.Err().Error()
		return res
	case sem <- struct{}{}:
	}
	defer func() { <-sem }()

	pc.hs.Track(pc.pod.Name, name)
	if err := pc.driver.StartService(ctx, pc.pod.Name, pc.pod.Name, svc); err != nil {
		logger.Errorf("Service [%s/%s] start failed: %v", pc.pod.Name, name, err)
		pc.hs.MarkFailed(pc.pod.Name, name, err)
		res.Outcome = models.OutcomeFailed
		res.Error = err.Error()
		return res
	}

	pc.hs.Begin(pc.pod.Name, svc, func(rctx context.Context) error {
		return pc.driver.StartService(rctx, pc.pod.Name, pc.pod.Name, svc)
	})
	logger.Infof("Service [%s/%s] started", pc.pod.Name, name)
	res.Outcome = models.OutcomeOK
	return res
}

/**
 * Stop the pod: every service, reverse dependency order, best effort
 * @description
 * - Services at the same dependency depth stop concurrently
 * - A failed stop is recorded and teardown continues; stop never aborts
 */
func (pc *PodController) Stop(ctx context.Context) (*models.PodReport, error) {
	report := &models.PodReport{Pod: pc.pod.Name, Action: "stop"}

	layers, err := pc.graph.Layers()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	for i := len(layers) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, name := range layers[i] {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				res := pc.stopService(ctx, name)
				mu.Lock()
				report.Results = append(report.Results, res)
				mu.Unlock()
			}(name)
		}
		wg.Wait()
	}
	return report, nil
}

func (pc *PodController) stopService(ctx context.Context, name string) models.ServiceActionResult {
	res := models.ServiceActionResult{Pod: pc.pod.Name, Service: name, Action: "stop"}

	state, tracked := pc.hs.Snapshot(pc.pod.Name, name)
	if tracked && !state.State.Active() {
		res.Outcome = models.OutcomeSkipped
		return res
	}

	pc.hs.MarkStopping(pc.pod.Name, name)
	if err := pc.driver.StopService(ctx, pc.pod.Name, name, pc.cfg.StopTimeout); err != nil {
		logger.Errorf("Service [%s/%s] stop failed: %v", pc.pod.Name, name, err)
		pc.hs.MarkFailed(pc.pod.Name, name, err)
		res.Outcome = models.OutcomeFailed
		res.Error = err.Error()
		return res
	}
	pc.hs.MarkStopped(pc.pod.Name, name)
	logger.Infof("Service [%s/%s] stopped", pc.pod.Name, name)
	res.Outcome = models.OutcomeOK
	return res
}

/**
 * Restart the pod: full stop, quiesce pause, full start
 * @description The quiesce delay lets released ports and sockets settle
 * before the start sequence begins
 */
func (pc *PodController) Restart(ctx context.Context) (*models.PodReport, error) {
	report := &models.PodReport{Pod: pc.pod.Name, Action: "restart"}

	stopReport, err := pc.Stop(ctx)
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, stopReport.Results...)

	select {
	case <-ctx.Done():
		return report, ctx.Err()
	case <-time.After(pc.cfg.QuiesceDelay):
	}

	startReport, err := pc.Start(ctx)
	if err != nil {
		return report, err
	}
	report.Results = append(report.Results, startReport.Results...)
	return report, nil
}

/**
 * Rebuild the pod: stop, rebuild every service artifact, start
 * @description
 * - A failed build aborts the sequence before any service starts, so the pod
 *   never comes up on a mix of old and new artifacts
 * - Services whose build never ran are reported as skipped
 */
func (pc *PodController) Build(ctx context.Context) (*models.PodReport, error) {
	report := &models.PodReport{Pod: pc.pod.Name, Action: "build"}

	stopReport, err := pc.Stop(ctx)
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, stopReport.Results...)

	order, err := pc.graph.TopoOrder()
	if err != nil {
		return nil, err
	}

	for i, name := range order {
		svc := pc.pod.Service(name)
		buildCtx, cancel := context.WithTimeout(ctx, pc.cfg.BuildTimeout)
		err := pc.driver.BuildService(buildCtx, pc.pod.Name, svc)
		cancel()
		if err != nil {
			buildErr := &models.BuildError{Pod: pc.pod.Name, Service: name, Err: err}
			logger.Errorf("%v, aborting build", buildErr)
			report.Results = append(report.Results, models.ServiceActionResult{
				Pod: pc.pod.Name, Service: name, Action: "build",
				Outcome: models.OutcomeFailed, Error: buildErr.Error(),
			})
			// 后面的服务不再构建也不启动
			for _, rest := range order[i+1:] {
				report.Results = append(report.Results, models.ServiceActionResult{
					Pod: pc.pod.Name, Service: rest, Action: "build",
					Outcome: models.OutcomeSkipped,
				})
			}
			return report, nil
		}
		report.Results = append(report.Results, models.ServiceActionResult{
			Pod: pc.pod.Name, Service: name, Action: "build", Outcome: models.OutcomeOK,
		})
	}

	startReport, err := pc.Start(ctx)
	if err != nil {
		return report, err
	}
	report.Results = append(report.Results, startReport.Results...)
	return report, nil
}

// Status 纯读操作，返回每个服务的状态快照，从未启动过的合成PENDING
func (pc *PodController) Status() *models.PodStatus {
	status := &models.PodStatus{Pod: pc.pod.Name}
	for i := range pc.pod.Services {
		svc := &pc.pod.Services[i]
		state, tracked := pc.hs.Snapshot(pc.pod.Name, svc.Name)
		if !tracked {
			state = models.RuntimeServiceState{
				Pod: pc.pod.Name, Name: svc.Name, State: models.StatePending,
			}
		}
		status.Services = append(status.Services, models.ServiceStatus{
			RuntimeServiceState: state,
			Resources:           svc.Resources,
		})
	}
	return status
}

// Logs 返回单个服务的日志尾部
func (pc *PodController) Logs(ctx context.Context, service string, tail int) (string, error) {
	if pc.pod.Service(service) == nil {
		return "", fmt.Errorf("pod %s: unknown service %q", pc.pod.Name, service)
	}
	return pc.driver.ServiceLogs(ctx, pc.pod.Name, service, tail)
}

/**
 * Clean reaps everything the pod owns: stopped units, named volumes and
 * the pod network
 * @returns {error} Refuses outright while any service is still active
 */
func (pc *PodController) Clean(ctx context.Context) error {
	for i := range pc.pod.Services {
		state, tracked := pc.hs.Snapshot(pc.pod.Name, pc.pod.Services[i].Name)
		if tracked && state.State.Active() {
			return fmt.Errorf("pod %s: service %s is still %s, stop the pod first",
				pc.pod.Name, pc.pod.Services[i].Name, state.State)
		}
	}

	var firstErr error
	for i := range pc.pod.Services {
		name := pc.pod.Services[i].Name
		if err := pc.driver.RemoveService(ctx, pc.pod.Name, name); err != nil {
			logger.Warnf("Service [%s/%s] remove failed: %v", pc.pod.Name, name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pc.hs.Forget(pc.pod.Name, name)
	}
	// 具名卷带pod前缀，和挂载时的命名一致
	for _, vol := range pc.pod.Volumes {
		if err := pc.driver.RemoveVolume(ctx, pc.pod.Name+"-"+vol); err != nil {
			logger.Warnf("Pod [%s] remove volume %s failed: %v", pc.pod.Name, vol, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := pc.driver.RemoveNetwork(ctx, pc.pod.Name); err != nil {
		logger.Warnf("Pod [%s] remove network failed: %v", pc.pod.Name, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
