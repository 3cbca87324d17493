package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"podfleet/internal/models"
	"podfleet/internal/runtime"
)

// fakeDriver 记录动作顺序、可注入失败的内存驱动
type fakeDriver struct {
	mu             sync.Mutex
	started        []string
	stopped        []string
	built          []string
	removed        []string
	networks       []string
	removedNets    []string
	removedVolumes []string
	failStart      map[string]error
	failStop       map[string]error
	failBuild      map[string]error
	running        map[string]bool
	exitCodes      map[string]int
	logs           map[string]string
	stopGrace      time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failStart: make(map[string]error),
		failStop:  make(map[string]error),
		failBuild: make(map[string]error),
		running:   make(map[string]bool),
		exitCodes: make(map[string]int),
		logs:      make(map[string]string),
	}
}

func (d *fakeDriver) EnsureNetwork(ctx context.Context, spec runtime.NetworkSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks = append(d.networks, spec.Name)
	return nil
}

func (d *fakeDriver) RemoveNetwork(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removedNets = append(d.removedNets, name)
	return nil
}

func (d *fakeDriver) StartService(ctx context.Context, pod, network string, svc *models.ServiceSpecification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	unit := runtime.UnitName(pod, svc.Name)
	if err := d.failStart[unit]; err != nil {
		return err
	}
	d.started = append(d.started, unit)
	d.running[unit] = true
	return nil
}

func (d *fakeDriver) StopService(ctx context.Context, pod, name string, grace time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	unit := runtime.UnitName(pod, name)
	d.stopGrace = grace
	if err := d.failStop[unit]; err != nil {
		return err
	}
	d.stopped = append(d.stopped, unit)
	d.running[unit] = false
	return nil
}

func (d *fakeDriver) RemoveService(ctx context.Context, pod, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, runtime.UnitName(pod, name))
	return nil
}

func (d *fakeDriver) BuildService(ctx context.Context, pod string, svc *models.ServiceSpecification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	unit := runtime.UnitName(pod, svc.Name)
	if err := d.failBuild[unit]; err != nil {
		return err
	}
	d.built = append(d.built, unit)
	return nil
}

func (d *fakeDriver) ServiceRunning(ctx context.Context, pod, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[runtime.UnitName(pod, name)], nil
}

func (d *fakeDriver) ServiceExitStatus(ctx context.Context, pod, name string) (bool, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	unit := runtime.UnitName(pod, name)
	if d.running[unit] {
		return false, 0, nil
	}
	return true, d.exitCodes[unit], nil
}

func (d *fakeDriver) ServiceLogs(ctx context.Context, pod, name string, tail int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logs[runtime.UnitName(pod, name)], nil
}

func (d *fakeDriver) RemoveVolume(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removedVolumes = append(d.removedVolumes, name)
	return nil
}

func (d *fakeDriver) startIndex(unit string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, u := range d.started {
		if u == unit {
			return i
		}
	}
	return -1
}

func chainPod(name string) *models.PodSpecification {
	// db <- api <- worker，全部没有探针，启动即健康
	return &models.PodSpecification{
		Name:    name,
		Network: models.PodNetworkSpec{Subnet: "172.30.0.0/24"},
		Volumes: []string{"data"},
		Services: []models.ServiceSpecification{
			{Name: "db", Image: "postgres:16"},
			{Name: "api", Image: "api:latest", DependsOn: []string{"db"}},
			{Name: "worker", Image: "worker:latest", DependsOn: []string{"api"}},
		},
	}
}

func newController(t *testing.T, pod *models.PodSpecification, driver runtime.Driver) (*PodController, *HealthSupervisor) {
	t.Helper()
	store, err := NewDefinitionStore(&models.FleetManifest{}, []*models.PodSpecification{pod})
	if err != nil {
		t.Fatalf("NewDefinitionStore: %v", err)
	}
	g, err := store.PodGraph(pod)
	if err != nil {
		t.Fatalf("PodGraph: %v", err)
	}
	hs := NewHealthSupervisor(testOrchestratorConfig())
	return NewPodController(pod, g, driver, hs, testOrchestratorConfig()), hs
}

func findResult(t *testing.T, report *models.PodReport, service, action string) models.ServiceActionResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Service == service && res.Action == action {
			return res
		}
	}
	t.Fatalf("no %s result for service %s in %+v", action, service, report.Results)
	return models.ServiceActionResult{}
}

/**
 * Test that services start in dependency order and the network is provisioned
 */
func TestStartOrder(t *testing.T) {
	driver := newFakeDriver()
	pc, _ := newController(t, chainPod("ai"), driver)

	report, err := pc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !report.Ok() {
		t.Fatalf("expected full success, failures: %+v", report.Failures())
	}
	if len(driver.networks) != 1 || driver.networks[0] != "ai" {
		t.Fatalf("network not provisioned: %v", driver.networks)
	}
	db, api, worker := driver.startIndex("ai-db"), driver.startIndex("ai-api"), driver.startIndex("ai-worker")
	if db < 0 || api < 0 || worker < 0 {
		t.Fatalf("not all services started: %v", driver.started)
	}
	if db > api || api > worker {
		t.Fatalf("dependency order violated: %v", driver.started)
	}
}

/**
 * Test the partial-success contract: a dependency that never turns healthy
 * blocks its dependents, the rest of the pod still starts, and the
 * report carries the breakdown
 */
func TestStartBlockedByUnhealthyDependency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pod := &models.PodSpecification{
		Name: "ai",
		Services: []models.ServiceSpecification{
			{
				Name: "memory-db", Image: "memdb:latest",
				Healthcheck: &models.HealthcheckSpec{
					Kind: models.ProbeHTTP, Target: server.URL,
					Interval: models.Duration(10 * time.Millisecond),
					Timeout:  models.Duration(time.Second),
					Retries:  1,
				},
			},
			{Name: "brain-api", Image: "brain:latest", DependsOn: []string{"memory-db"}},
			{Name: "sidecar", Image: "sidecar:latest"},
		},
	}
	driver := newFakeDriver()
	pc, _ := newController(t, pod, driver)

	report, err := pc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 启动动作本身是成功的，健康回退由监护记录
	if res := findResult(t, report, "memory-db", "start"); res.Outcome != models.OutcomeOK {
		t.Errorf("memory-db start action: %+v", res)
	}
	res := findResult(t, report, "brain-api", "start")
	if res.Outcome != models.OutcomeBlocked {
		t.Errorf("expected brain-api blocked, got %+v", res)
	}
	if !strings.Contains(res.Error, "memory-db") {
		t.Errorf("blocked error should name the dependency: %q", res.Error)
	}
	if driver.startIndex("ai-brain-api") >= 0 {
		t.Error("brain-api must never be issued a start")
	}
	// 无关服务不受影响
	if res := findResult(t, report, "sidecar", "start"); res.Outcome != models.OutcomeOK {
		t.Errorf("sidecar should start: %+v", res)
	}
	if report.Ok() {
		t.Error("partial success must not read as full success")
	}
}

/**
 * Test the bounded dependency wait: a dependency stuck in STARTING times its
 * dependent out at the configured boundary
 */
func TestStartDependencyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pod := &models.PodSpecification{
		Name: "ai",
		Services: []models.ServiceSpecification{
			{
				Name: "memory-db", Image: "memdb:latest",
				Healthcheck: &models.HealthcheckSpec{
					Kind: models.ProbeHTTP, Target: server.URL,
					Interval:    models.Duration(10 * time.Millisecond),
					Timeout:     models.Duration(time.Second),
					Retries:     3,
					StartPeriod: models.Duration(time.Hour), // 宽限期内一直停在STARTING
				},
			},
			{Name: "brain-api", Image: "brain:latest", DependsOn: []string{"memory-db"}},
		},
	}
	store, err := NewDefinitionStore(&models.FleetManifest{}, []*models.PodSpecification{pod})
	if err != nil {
		t.Fatalf("NewDefinitionStore: %v", err)
	}
	g, err := store.PodGraph(pod)
	if err != nil {
		t.Fatalf("PodGraph: %v", err)
	}
	cfg := testOrchestratorConfig()
	cfg.DependencyTimeout = 200 * time.Millisecond
	driver := newFakeDriver()
	pc := NewPodController(pod, g, driver, NewHealthSupervisor(cfg), cfg)

	begin := time.Now()
	report, err := pc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	elapsed := time.Since(begin)

	if res := findResult(t, report, "memory-db", "start"); res.Outcome != models.OutcomeOK {
		t.Errorf("memory-db start action: %+v", res)
	}
	res := findResult(t, report, "brain-api", "start")
	if res.Outcome != models.OutcomeTimeout {
		t.Fatalf("expected brain-api timeout, got %+v", res)
	}
	if !strings.Contains(res.Error, "memory-db") || !strings.Contains(res.Error, "not healthy within") {
		t.Errorf("timeout error should name the dependency and the bound: %q", res.Error)
	}
	if driver.startIndex("ai-brain-api") >= 0 {
		t.Error("brain-api must never be issued a start")
	}
	// 等待应该在配置的边界处结束，而不是等探针耗尽重试
	if elapsed < 200*time.Millisecond || elapsed > time.Second {
		t.Errorf("wait should end at the configured boundary, took %v", elapsed)
	}
	if report.Ok() {
		t.Error("timeout must not read as success")
	}
}

/**
 * Test cooperative cancellation: once the context is cancelled no further
 * start is issued and every pending service gets a well-defined outcome
 */
func TestStartCancelledMidStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pod := &models.PodSpecification{
		Name: "ai",
		Services: []models.ServiceSpecification{
			{
				Name: "db", Image: "postgres:16",
				Healthcheck: &models.HealthcheckSpec{
					Kind: models.ProbeHTTP, Target: server.URL,
					Interval:    models.Duration(10 * time.Millisecond),
					Timeout:     models.Duration(time.Second),
					Retries:     3,
					StartPeriod: models.Duration(time.Hour),
				},
			},
			{Name: "api", Image: "api:latest", DependsOn: []string{"db"}},
			{Name: "worker", Image: "worker:latest", DependsOn: []string{"api"}},
		},
	}
	driver := newFakeDriver()
	pc, _ := newController(t, pod, driver)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	report, err := pc.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if res := findResult(t, report, "db", "start"); res.Outcome != models.OutcomeOK {
		t.Errorf("db start action: %+v", res)
	}
	if res := findResult(t, report, "api", "start"); res.Outcome != models.OutcomeCancelled {
		t.Errorf("expected api cancelled, got %+v", res)
	}
	if res := findResult(t, report, "worker", "start"); res.Outcome != models.OutcomeBlocked {
		t.Errorf("expected worker blocked behind the cancelled api, got %+v", res)
	}
	if len(driver.started) != 1 || driver.started[0] != "ai-db" {
		t.Errorf("no start may be issued after cancellation: %v", driver.started)
	}
	if report.Ok() {
		t.Error("a cancelled start must not read as success")
	}
}

func TestStartFailureBlocksDependents(t *testing.T) {
	driver := newFakeDriver()
	driver.failStart["ai-db"] = fmt.Errorf("image missing")
	pc, _ := newController(t, chainPod("ai"), driver)

	report, err := pc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res := findResult(t, report, "db", "start"); res.Outcome != models.OutcomeFailed {
		t.Errorf("db should fail: %+v", res)
	}
	if res := findResult(t, report, "api", "start"); res.Outcome != models.OutcomeBlocked {
		t.Errorf("api should be blocked, got %+v", res)
	}
	if res := findResult(t, report, "worker", "start"); res.Outcome != models.OutcomeBlocked {
		t.Errorf("worker should be blocked, got %+v", res)
	}
}

/**
 * Test teardown: reverse order, best effort, failures recorded but not fatal
 */
func TestStopReverseBestEffort(t *testing.T) {
	driver := newFakeDriver()
	pc, _ := newController(t, chainPod("ai"), driver)
	if _, err := pc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	driver.failStop["ai-api"] = fmt.Errorf("container wedged")
	report, err := pc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if res := findResult(t, report, "api", "stop"); res.Outcome != models.OutcomeFailed {
		t.Errorf("api stop should fail: %+v", res)
	}
	// 其它服务照停
	if res := findResult(t, report, "db", "stop"); res.Outcome != models.OutcomeOK {
		t.Errorf("db should stop: %+v", res)
	}
	if res := findResult(t, report, "worker", "stop"); res.Outcome != models.OutcomeOK {
		t.Errorf("worker should stop: %+v", res)
	}
	// worker在db之前停
	wi, di := -1, -1
	for i, u := range driver.stopped {
		if u == "ai-worker" {
			wi = i
		}
		if u == "ai-db" {
			di = i
		}
	}
	if wi < 0 || di < 0 || wi > di {
		t.Errorf("teardown order violated: %v", driver.stopped)
	}
}

/**
 * Test that re-running start on a live pod leaves the running units alone
 */
func TestStartIdempotent(t *testing.T) {
	driver := newFakeDriver()
	pc, hs := newController(t, chainPod("ai"), driver)
	if _, err := pc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, ok := hs.Snapshot("ai", "db")
	if !ok || before.State != models.StateHealthy {
		t.Fatalf("db should be healthy after start, got %+v", before)
	}

	report, err := pc.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !report.Ok() {
		t.Fatalf("idempotent re-start reported failures: %+v", report.Failures())
	}
	for _, res := range report.Results {
		if res.Outcome != models.OutcomeSkipped {
			t.Errorf("service %s should be left alone, got %+v", res.Service, res)
		}
	}
	if len(driver.started) != 3 {
		t.Errorf("running units must not be started again: %v", driver.started)
	}
	after, _ := hs.Snapshot("ai", "db")
	if !after.LastTransition.Equal(before.LastTransition) {
		t.Error("re-start must not bounce a healthy unit's supervision")
	}
}

// 停止的宽限期来自配置，不是驱动里写死的数
func TestStopUsesConfiguredGrace(t *testing.T) {
	pod := chainPod("ai")
	store, err := NewDefinitionStore(&models.FleetManifest{}, []*models.PodSpecification{pod})
	if err != nil {
		t.Fatalf("NewDefinitionStore: %v", err)
	}
	g, err := store.PodGraph(pod)
	if err != nil {
		t.Fatalf("PodGraph: %v", err)
	}
	cfg := testOrchestratorConfig()
	cfg.StopTimeout = 7 * time.Second
	driver := newFakeDriver()
	pc := NewPodController(pod, g, driver, NewHealthSupervisor(cfg), cfg)

	if _, err := pc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := pc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if driver.stopGrace != 7*time.Second {
		t.Errorf("expected stop grace 7s, driver saw %v", driver.stopGrace)
	}
}

/**
 * Test atomic rebuild: a failed build aborts before any start is issued
 */
func TestBuildAbortsBeforeStart(t *testing.T) {
	driver := newFakeDriver()
	driver.failBuild["ai-api"] = fmt.Errorf("compile error")
	pc, _ := newController(t, chainPod("ai"), driver)

	report, err := pc.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res := findResult(t, report, "db", "build"); res.Outcome != models.OutcomeOK {
		t.Errorf("db build: %+v", res)
	}
	res := findResult(t, report, "api", "build")
	if res.Outcome != models.OutcomeFailed || !strings.Contains(res.Error, "build failed") {
		t.Errorf("api build: %+v", res)
	}
	if res := findResult(t, report, "worker", "build"); res.Outcome != models.OutcomeSkipped {
		t.Errorf("worker build should be skipped: %+v", res)
	}
	if len(driver.started) != 0 {
		t.Errorf("no service may start on mixed artifacts: %v", driver.started)
	}
	if report.Ok() {
		t.Error("aborted build must not read as success")
	}
}

func TestRestartStopsThenStarts(t *testing.T) {
	driver := newFakeDriver()
	pc, _ := newController(t, chainPod("ai"), driver)
	if _, err := pc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	report, err := pc.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !report.Ok() {
		t.Fatalf("restart failures: %+v", report.Failures())
	}
	if len(driver.stopped) != 3 || len(driver.started) != 6 {
		t.Errorf("unexpected action counts: stopped=%v started=%v", driver.stopped, driver.started)
	}
}

/**
 * Test that status is a pure read and synthesizes PENDING for services
 * that never started
 */
func TestStatusPureRead(t *testing.T) {
	driver := newFakeDriver()
	pod := chainPod("ai")
	pod.Services[0].Resources = &models.ResourceLimits{MemoryMB: 512, CPUs: 1.5}
	pc, _ := newController(t, pod, driver)

	status := pc.Status()
	if len(status.Services) != 3 {
		t.Fatalf("expected 3 services, got %+v", status)
	}
	for _, svc := range status.Services {
		if svc.State != models.StatePending {
			t.Errorf("service %s should be PENDING before start, got %s", svc.Name, svc.State)
		}
	}
	if status.Services[0].Resources == nil || status.Services[0].Resources.MemoryMB != 512 {
		t.Error("advisory resources not surfaced in status")
	}
	if len(driver.started)+len(driver.stopped) != 0 {
		t.Error("status must not touch any runtime unit")
	}
}

func TestCleanRefusesWhileActive(t *testing.T) {
	driver := newFakeDriver()
	pc, _ := newController(t, chainPod("ai"), driver)
	if _, err := pc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := pc.Clean(context.Background()); err == nil {
		t.Fatal("clean must refuse while services are running")
	}

	if _, err := pc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pc.Clean(context.Background()); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(driver.removed) != 3 {
		t.Errorf("expected 3 units reaped, got %v", driver.removed)
	}
	if len(driver.removedVolumes) != 1 || driver.removedVolumes[0] != "ai-data" {
		t.Errorf("expected pod-prefixed volume reaped, got %v", driver.removedVolumes)
	}
	if len(driver.removedNets) != 1 || driver.removedNets[0] != "ai" {
		t.Errorf("expected network reaped, got %v", driver.removedNets)
	}
}
