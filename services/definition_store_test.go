package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"podfleet/internal/models"
)

func twoServicePod(name, subnet string) *models.PodSpecification {
	return &models.PodSpecification{
		Name:    name,
		Network: models.PodNetworkSpec{Subnet: subnet},
		Services: []models.ServiceSpecification{
			{Name: "db", Image: "postgres:16"},
			{Name: "api", Image: name + "/api:latest", DependsOn: []string{"db"}},
		},
	}
}

func TestValidateAcceptsSoundModel(t *testing.T) {
	manifest := &models.FleetManifest{
		Dependencies: []models.CrossPodDependency{
			{From: "web", To: "ai", Kind: models.DependencyHard},
		},
	}
	store, err := NewDefinitionStore(manifest, []*models.PodSpecification{
		twoServicePod("ai", "172.30.0.0/24"),
		twoServicePod("web", "172.30.1.0/24"),
	})
	if err != nil {
		t.Fatalf("NewDefinitionStore: %v", err)
	}
	if store.Pod("ai") == nil || store.Pod("web") == nil {
		t.Fatal("pods not registered by name")
	}
	if deps := store.HardDependencies("web"); len(deps) != 1 || deps[0] != "ai" {
		t.Fatalf("unexpected hard deps: %v", deps)
	}
}

/**
 * Test that probe and restart defaults are filled in before validation
 */
func TestDefaults(t *testing.T) {
	pod := &models.PodSpecification{
		Name: "ai",
		Services: []models.ServiceSpecification{
			{Name: "api", Image: "api:latest", Healthcheck: &models.HealthcheckSpec{
				Kind: models.ProbeHTTP, Target: "http://localhost:8080/health",
			}},
		},
	}
	if _, err := NewDefinitionStore(&models.FleetManifest{}, []*models.PodSpecification{pod}); err != nil {
		t.Fatalf("NewDefinitionStore: %v", err)
	}
	svc := pod.Service("api")
	if svc.Restart != models.RestartNever {
		t.Errorf("expected default restart policy never, got %q", svc.Restart)
	}
	hc := svc.Healthcheck
	if hc.Interval <= 0 || hc.Timeout <= 0 || hc.Retries != 3 {
		t.Errorf("defaults not applied: %+v", hc)
	}
}

func TestValidateRejectsSubnetOverlap(t *testing.T) {
	_, err := NewDefinitionStore(&models.FleetManifest{}, []*models.PodSpecification{
		twoServicePod("ai", "172.30.0.0/16"),
		twoServicePod("web", "172.30.1.0/24"),
	})
	var conflict *models.NetworkConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected NetworkConflictError, got %v", err)
	}
}

func TestValidateRejectsBadModels(t *testing.T) {
	cases := []struct {
		name string
		pods []*models.PodSpecification
		deps []models.CrossPodDependency
	}{
		{
			name: "duplicate pod name",
			pods: []*models.PodSpecification{twoServicePod("ai", ""), twoServicePod("ai", "")},
		},
		{
			name: "duplicate service name",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "api", Image: "a"}, {Name: "api", Image: "b"},
				},
			}},
		},
		{
			name: "missing image",
			pods: []*models.PodSpecification{{
				Name:     "ai",
				Services: []models.ServiceSpecification{{Name: "api"}},
			}},
		},
		{
			name: "unknown dependency",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "api", Image: "a", DependsOn: []string{"ghost"}},
				},
			}},
		},
		{
			name: "dependency cycle",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "a", Image: "a", DependsOn: []string{"b"}},
					{Name: "b", Image: "b", DependsOn: []string{"a"}},
				},
			}},
		},
		{
			name: "invalid restart policy",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "api", Image: "a", Restart: "sometimes"},
				},
			}},
		},
		{
			name: "tcp probe target without port",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "api", Image: "a", Healthcheck: &models.HealthcheckSpec{Kind: models.ProbeTCP, Target: "localhost"}},
				},
			}},
		},
		{
			name: "invalid probe kind",
			pods: []*models.PodSpecification{{
				Name: "ai",
				Services: []models.ServiceSpecification{
					{Name: "api", Image: "a", Healthcheck: &models.HealthcheckSpec{Kind: "grpc", Target: "x"}},
				},
			}},
		},
		{
			name: "cross-pod dependency to unknown pod",
			pods: []*models.PodSpecification{twoServicePod("ai", "")},
			deps: []models.CrossPodDependency{{From: "ai", To: "ghost", Kind: models.DependencyHard}},
		},
		{
			name: "cross-pod cycle",
			pods: []*models.PodSpecification{twoServicePod("ai", ""), twoServicePod("web", "")},
			deps: []models.CrossPodDependency{
				{From: "ai", To: "web", Kind: models.DependencyHard},
				{From: "web", To: "ai", Kind: models.DependencyHard},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDefinitionStore(&models.FleetManifest{Dependencies: tc.deps}, tc.pods)
			if err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

/**
 * Test that mutual soft references never count as a cycle
 * @description Two pods reaching each other through the host gateway is a
 * legitimate topology; only hard dependencies impose ordering
 */
func TestSoftDependenciesNeverCycle(t *testing.T) {
	manifest := &models.FleetManifest{
		Dependencies: []models.CrossPodDependency{
			{From: "ai", To: "web", Kind: models.DependencySoft},
			{From: "web", To: "ai", Kind: models.DependencySoft},
		},
	}
	store, err := NewDefinitionStore(manifest, []*models.PodSpecification{
		twoServicePod("ai", ""),
		twoServicePod("web", ""),
	})
	if err != nil {
		t.Fatalf("mutual soft references must validate: %v", err)
	}
	fg, err := store.FleetGraph()
	if err != nil {
		t.Fatalf("FleetGraph: %v", err)
	}
	order, err := fg.TopoOrder()
	if err != nil || len(order) != 2 {
		t.Fatalf("fleet order: %v, %v", order, err)
	}
}

/**
 * Test loading a manifest and its pod documents from disk
 */
func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	manifest := `gateway: "127.0.0.1"
pods:
  - name: ai
    file: pods/ai.yaml
dependencies: []
`
	podDoc := `name: ai
network:
  subnet: "172.30.0.0/24"
services:
  - name: db
    image: postgres:16
    healthcheck:
      kind: command
      target: "pg_isready"
      interval: 5s
      start_period: 30s
  - name: api
    image: ai/api:latest
    depends_on: [db]
`
	if err := os.MkdirAll(filepath.Join(dir, "pods"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pods", "ai.yaml"), []byte(podDoc), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := LoadDefinitions(filepath.Join(dir, "fleet.yaml"))
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	pod := store.Pod("ai")
	if pod == nil {
		t.Fatal("pod ai not loaded")
	}
	db := pod.Service("db")
	if db == nil || db.Healthcheck == nil {
		t.Fatal("service db not parsed")
	}
	if db.Healthcheck.Interval.Std().Seconds() != 5 {
		t.Errorf("interval not parsed: %v", db.Healthcheck.Interval)
	}
	if db.Healthcheck.StartPeriod.Std().Seconds() != 30 {
		t.Errorf("start_period not parsed: %v", db.Healthcheck.StartPeriod)
	}
	if store.Gateway() != "127.0.0.1" {
		t.Errorf("gateway not parsed: %q", store.Gateway())
	}
}
