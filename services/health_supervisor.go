package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"podfleet/internal/config"
	"podfleet/internal/logger"
	"podfleet/internal/models"
)

// ErrDependencyUnhealthy 依赖已经判定为UNHEALTHY，等待没有意义
var ErrDependencyUnhealthy = errors.New("dependency is unhealthy")

// ErrWaitTimeout 在限定时间内没有等到HEALTHY
var ErrWaitTimeout = errors.New("wait for healthy timed out")

// restartFunc 重启策略触发时重新下发一次start动作
type restartFunc func(ctx context.Context) error

// exitStatusFunc 查询运行单元是否已退出及其退出码
type exitStatusFunc func(ctx context.Context, pod, name string) (exited bool, code int, err error)

// supervised 一个被监护的服务实例，状态只由监护协程和本文件的方法写
type supervised struct {
	state          models.RuntimeServiceState
	spec           *models.HealthcheckSpec
	policy         string
	probe          ProbeFunc
	restart        restartFunc
	cancel         context.CancelFunc
	started        time.Time
	backoff        time.Duration
	restartPending bool
}

/**
 * HealthSupervisor polls each running service's health probe on a schedule
 * and maintains its lifecycle state.
 * @description
 * - State machine: PENDING → STARTING → {HEALTHY | UNHEALTHY} → STOPPING → STOPPED
 * - Each RuntimeServiceState has exactly one writer (this supervisor);
 *   controllers read through snapshot copies to avoid torn reads
 * - Probing for distinct services runs in independent goroutines with a
 *   bounded per-probe timeout, so one hanging probe never delays another
 */
type HealthSupervisor struct {
	mu               sync.Mutex
	units            map[string]*supervised
	successThreshold int
	backoffBase      time.Duration
	backoffMax       time.Duration
	cacheDir         string
	exitStatus       exitStatusFunc
}

func NewHealthSupervisor(cfg *config.OrchestratorConfig) *HealthSupervisor {
	return &HealthSupervisor{
		units:            make(map[string]*supervised),
		successThreshold: cfg.SuccessThreshold,
		backoffBase:      cfg.RestartBackoff,
		backoffMax:       cfg.RestartBackoffMax,
	}
}

// SetCacheDir 启用状态缓存持久化；为空则不落盘（测试用）
func (hs *HealthSupervisor) SetCacheDir(dir string) {
	hs.cacheDir = dir
}

// SetExitStatusFunc 注入退出状态查询，on-failure策略靠它区分异常退出
func (hs *HealthSupervisor) SetExitStatusFunc(fn exitStatusFunc) {
	hs.exitStatus = fn
}

func stateKey(pod, name string) string {
	return pod + "/" + name
}

// Track 保证服务有一条PENDING状态记录，start动作下发前调用
func (hs *HealthSupervisor) Track(pod, name string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if _, exist := hs.units[stateKey(pod, name)]; exist {
		return
	}
	hs.units[stateKey(pod, name)] = &supervised{
		state: models.RuntimeServiceState{
			Pod:            pod,
			Name:           name,
			State:          models.StatePending,
			LastTransition: time.Now(),
		},
		backoff: hs.backoffBase,
	}
}

/**
 * Begin supervising a service that has just been started
 * @param {string} pod - Owning pod
 * @param {*models.ServiceSpecification} svc - Service definition
 * @param {restartFunc} restart - Reissues the start action, used by the restart policy
 * @description
 * - Transitions the service to STARTING and launches its probe goroutine
 * - A service without a healthcheck is considered HEALTHY as soon as started
 */
func (hs *HealthSupervisor) Begin(pod string, svc *models.ServiceSpecification, restart restartFunc) {
	hs.beginUnit(pod, svc, restart, 0)
}

// Adopt 守护进程重启后重新接管一个仍在运行的服务，保留历史重启计数
func (hs *HealthSupervisor) Adopt(pod string, svc *models.ServiceSpecification, restart restartFunc, restarts int) {
	hs.beginUnit(pod, svc, restart, restarts)
}

func (hs *HealthSupervisor) beginUnit(pod string, svc *models.ServiceSpecification, restart restartFunc, restarts int) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	key := stateKey(pod, svc.Name)
	if old, exist := hs.units[key]; exist && old.cancel != nil {
		old.cancel()
	}

	now := time.Now()
	u := &supervised{
		state: models.RuntimeServiceState{
			Pod:       pod,
			Name:      svc.Name,
			State:     models.StateStarting,
			Restarts:  restarts,
			StartTime: now.Format(time.RFC3339),
		},
		spec:    svc.Healthcheck,
		policy:  svc.Restart,
		restart: restart,
		started: now,
		backoff: hs.backoffBase,
	}
	hs.units[key] = u
	hs.transitionLocked(u, models.StateStarting, "")

	if u.spec == nil {
		// 没有探针的服务，启动即视为健康
		hs.transitionLocked(u, models.StateHealthy, "")
		return
	}

	u.probe = BuildProbe(u.spec)
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	go hs.watch(ctx, u)
}

// watch 监护协程：按interval轮询探针，直到被取消
func (hs *HealthSupervisor) watch(ctx context.Context, u *supervised) {
	ticker := time.NewTicker(u.spec.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, u.spec.Timeout.Std())
			begin := time.Now()
			err := u.probe(probeCtx)
			cancel()
			observeProbe(u.state.Pod, u.state.Name, time.Since(begin), err)
			hs.observe(u, err)
		}
	}
}

/**
 * Apply one probe result to the state machine
 * @description
 * - Failures inside the startPeriod grace window are not counted
 * - successThreshold consecutive successes turn STARTING/UNHEALTHY into HEALTHY
 * - retries consecutive failures turn the service UNHEALTHY, exactly then,
 *   and trigger the restart policy
 */
func (hs *HealthSupervisor) observe(u *supervised, probeErr error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	// 单元已被替换或正在停止时，迟到的探测结果直接丢弃
	if hs.units[stateKey(u.state.Pod, u.state.Name)] != u {
		return
	}
	if u.state.State == models.StateStopping || u.state.State == models.StateStopped {
		return
	}

	if probeErr == nil {
		u.state.Successes++
		u.state.Failures = 0
		if (u.state.State == models.StateStarting || u.state.State == models.StateUnhealthy) &&
			u.state.Successes >= hs.successThreshold {
			hs.transitionLocked(u, models.StateHealthy, "")
			u.backoff = hs.backoffBase
		}
		return
	}

	if u.state.State == models.StateStarting && time.Since(u.started) < u.spec.StartPeriod.Std() {
		// 宽限期内不计失败，新进程允许慢
		return
	}

	u.state.Failures++
	u.state.Successes = 0
	u.state.LastError = probeErr.Error()

	if u.state.Failures < u.spec.Retries {
		return
	}
	if u.state.State != models.StateUnhealthy {
		logger.Errorf("Service [%s/%s] health check failed %d/%d times: %v",
			u.state.Pod, u.state.Name, u.state.Failures, u.spec.Retries, probeErr)
		hs.transitionLocked(u, models.StateUnhealthy, probeErr.Error())
	}
	hs.applyRestartPolicyLocked(u)
}

// applyRestartPolicyLocked 健康回退后按策略安排重启
func (hs *HealthSupervisor) applyRestartPolicyLocked(u *supervised) {
	if u.policy == models.RestartNever {
		return
	}
	if u.restart == nil || u.restartPending {
		return
	}
	u.restartPending = true
	if u.policy == models.RestartOnFailure {
		// on-failure只处理异常退出，需要先查单元的退出状态
		go hs.gateOnFailure(u)
		return
	}
	hs.scheduleRestartLocked(u)
}

// gateOnFailure 单元还活着或者正常退出（码0）都不重启，继续探测
func (hs *HealthSupervisor) gateOnFailure(u *supervised) {
	var exited bool
	var code int
	var err error
	if hs.exitStatus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exited, code, err = hs.exitStatus(ctx, u.state.Pod, u.state.Name)
		cancel()
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.units[stateKey(u.state.Pod, u.state.Name)] != u || u.state.State != models.StateUnhealthy {
		u.restartPending = false
		return
	}
	if err != nil {
		logger.Warnf("Service [%s/%s] exit status query failed: %v", u.state.Pod, u.state.Name, err)
		u.restartPending = false
		return
	}
	if hs.exitStatus == nil || !exited || code == 0 {
		logger.Debugf("Service [%s/%s] stays unhealthy without restart (exited=%v code=%d)",
			u.state.Pod, u.state.Name, exited, code)
		u.restartPending = false
		return
	}
	hs.scheduleRestartLocked(u)
}

// scheduleRestartLocked 按当前退避安排一次重启，退避按倍增长有上限
func (hs *HealthSupervisor) scheduleRestartLocked(u *supervised) {
	delay := u.backoff
	u.backoff = u.backoff * 2
	if u.backoff > hs.backoffMax {
		u.backoff = hs.backoffMax
	}
	logger.Infof("Service [%s/%s] will restart in %v (restart: %d)",
		u.state.Pod, u.state.Name, delay, u.state.Restarts+1)
	time.AfterFunc(delay, func() {
		hs.doRestart(u)
	})
}

func (hs *HealthSupervisor) doRestart(u *supervised) {
	hs.mu.Lock()
	if hs.units[stateKey(u.state.Pod, u.state.Name)] != u || u.state.State != models.StateUnhealthy {
		u.restartPending = false
		hs.mu.Unlock()
		return
	}
	u.restartPending = false
	u.state.Restarts++
	u.state.Failures = 0
	u.state.Successes = 0
	u.started = time.Now()
	u.state.StartTime = u.started.Format(time.RFC3339)
	hs.transitionLocked(u, models.StateStarting, "")
	restart := u.restart
	pod, name := u.state.Pod, u.state.Name
	hs.mu.Unlock()

	recordRestart(pod, name)
	if err := restart(context.Background()); err != nil {
		logger.Errorf("Service [%s/%s] restart failed: %v", pod, name, err)
		hs.mu.Lock()
		if hs.units[stateKey(pod, name)] == u {
			hs.transitionLocked(u, models.StateUnhealthy, err.Error())
			hs.applyRestartPolicyLocked(u)
		}
		hs.mu.Unlock()
	}
}

// MarkStopping 停止动作下发前调用，停掉监护协程
func (hs *HealthSupervisor) MarkStopping(pod, name string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	u, exist := hs.units[stateKey(pod, name)]
	if !exist {
		return
	}
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	hs.transitionLocked(u, models.StateStopping, "")
}

// MarkStopped 停止动作确认完成后调用
func (hs *HealthSupervisor) MarkStopped(pod, name string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	u, exist := hs.units[stateKey(pod, name)]
	if !exist {
		return
	}
	hs.transitionLocked(u, models.StateStopped, "")
}

// MarkFailed start动作本身失败时记录
func (hs *HealthSupervisor) MarkFailed(pod, name string, err error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	u, exist := hs.units[stateKey(pod, name)]
	if !exist {
		return
	}
	hs.transitionLocked(u, models.StateUnhealthy, err.Error())
}

// Forget 服务完全停止并被回收后删除状态条目
func (hs *HealthSupervisor) Forget(pod, name string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	u, exist := hs.units[stateKey(pod, name)]
	if !exist {
		return
	}
	if u.cancel != nil {
		u.cancel()
	}
	delete(hs.units, stateKey(pod, name))
	if hs.cacheDir != "" {
		removeServiceState(hs.cacheDir, pod, name)
	}
}

// Snapshot 返回状态副本，避免读到写一半的数据
func (hs *HealthSupervisor) Snapshot(pod, name string) (models.RuntimeServiceState, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	u, exist := hs.units[stateKey(pod, name)]
	if !exist {
		return models.RuntimeServiceState{}, false
	}
	return u.state, true
}

/**
 * Block until the service reaches HEALTHY, bounded by timeout
 * @returns {error} nil once healthy; ErrDependencyUnhealthy if the service is
 *                  already declared UNHEALTHY; ErrWaitTimeout at the boundary;
 *                  ctx.Err() on cancellation
 */
func (hs *HealthSupervisor) WaitHealthy(ctx context.Context, pod, name string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		if state, exist := hs.Snapshot(pod, name); exist {
			switch state.State {
			case models.StateHealthy:
				return nil
			case models.StateUnhealthy:
				return ErrDependencyUnhealthy
			}
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
 * Run one on-demand probe, independent of the background cadence
 * @description Used by the fleet-wide health() sweep; never mutates state
 */
func (hs *HealthSupervisor) ProbeNow(ctx context.Context, pod string, svc *models.ServiceSpecification) models.ServiceHealthResult {
	result := models.ServiceHealthResult{Pod: pod, Service: svc.Name, State: models.StatePending}

	state, exist := hs.Snapshot(pod, svc.Name)
	if exist {
		result.State = state.State
	}
	if !exist || !state.State.Active() {
		result.Error = "not running"
		return result
	}

	if svc.Healthcheck == nil {
		result.Healthy = state.State == models.StateHealthy
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, svc.Healthcheck.Timeout.Std())
	defer cancel()
	begin := time.Now()
	err := BuildProbe(svc.Healthcheck)(probeCtx)
	observeProbe(pod, svc.Name, time.Since(begin), err)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Healthy = true
	return result
}

// PodHealthy pod的所有服务都处于HEALTHY时为真
func (hs *HealthSupervisor) PodHealthy(pod *models.PodSpecification) bool {
	for i := range pod.Services {
		state, exist := hs.Snapshot(pod.Name, pod.Services[i].Name)
		if !exist || state.State != models.StateHealthy {
			return false
		}
	}
	return true
}

// transitionLocked 记录一次状态迁移，调用方必须持锁
func (hs *HealthSupervisor) transitionLocked(u *supervised, state models.ServiceState, lastError string) {
	u.state.State = state
	u.state.LastTransition = time.Now()
	if lastError != "" {
		u.state.LastError = lastError
	}
	recordTransition(u.state.Pod, u.state.Name, string(state), state == models.StateHealthy)
	if hs.cacheDir != "" {
		persisted := u.state
		saveServiceState(hs.cacheDir, &persisted)
	}
	logger.Debugf("Service [%s/%s] -> %s", u.state.Pod, u.state.Name, state)
}
