package services

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"podfleet/internal/graph"
	"podfleet/internal/models"
	"podfleet/internal/utils"
)

/**
 * DefinitionStore holds the static declaration of every manageable unit.
 * Loaded once, validated as a pure function over the whole model, then
 * treated as immutable.
 */
type DefinitionStore struct {
	manifest *models.FleetManifest
	pods     []*models.PodSpecification
	byName   map[string]*models.PodSpecification
}

/**
 * Load the fleet manifest and every referenced pod document
 * @param {string} manifestPath - Path of fleet.yaml
 * @returns {*DefinitionStore} Validated definition store
 * @returns {error} Configuration errors are fatal and reported before any resource is touched
 * @description
 * - Pod document paths are resolved relative to the manifest
 * - Defaults are filled in before validation (probe interval/timeout/retries,
 *   restart policy)
 */
func LoadDefinitions(manifestPath string) (*DefinitionStore, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet manifest: %w", err)
	}
	var manifest models.FleetManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse fleet manifest: %w", err)
	}

	store := &DefinitionStore{
		manifest: &manifest,
		byName:   make(map[string]*models.PodSpecification),
	}

	baseDir := filepath.Dir(manifestPath)
	for _, ref := range manifest.Pods {
		podPath := ref.File
		if !filepath.IsAbs(podPath) {
			podPath = filepath.Join(baseDir, podPath)
		}
		podRaw, err := os.ReadFile(podPath)
		if err != nil {
			return nil, fmt.Errorf("pod %s: failed to read document: %w", ref.Name, err)
		}
		var pod models.PodSpecification
		if err := yaml.Unmarshal(podRaw, &pod); err != nil {
			return nil, fmt.Errorf("pod %s: failed to parse document: %w", ref.Name, err)
		}
		if pod.Name == "" {
			pod.Name = ref.Name
		}
		if pod.Name != ref.Name {
			return nil, fmt.Errorf("pod %s: document declares name %q", ref.Name, pod.Name)
		}
		collectPodDefaults(&pod)
		store.pods = append(store.pods, &pod)
	}

	if err := store.Validate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewDefinitionStore 从内存里的定义构建store，测试用
func NewDefinitionStore(manifest *models.FleetManifest, pods []*models.PodSpecification) (*DefinitionStore, error) {
	store := &DefinitionStore{
		manifest: manifest,
		byName:   make(map[string]*models.PodSpecification),
	}
	for _, pod := range pods {
		collectPodDefaults(pod)
		store.pods = append(store.pods, pod)
	}
	if err := store.Validate(); err != nil {
		return nil, err
	}
	return store, nil
}

// collectPodDefaults 填充探针和重启策略的缺省值
func collectPodDefaults(pod *models.PodSpecification) {
	for i := range pod.Services {
		svc := &pod.Services[i]
		if svc.Restart == "" {
			svc.Restart = models.RestartNever
		}
		if hc := svc.Healthcheck; hc != nil {
			if hc.Interval <= 0 {
				hc.Interval = models.Duration(10 * time.Second)
			}
			if hc.Timeout <= 0 {
				hc.Timeout = models.Duration(5 * time.Second)
			}
			if hc.Retries <= 0 {
				hc.Retries = 3
			}
		}
	}
}

/**
 * Validate the whole fleet model
 * @returns {error} The first configuration error found, nil when the model is sound
 * @description
 * - Duplicate pod/service names, self-dependencies, unknown dependency targets
 * - Probe kinds and restart policies
 * - Subnet syntax and pairwise overlap across pods
 * - Cross-pod dependency references and kinds
 * - Acyclicity of every pod graph and of the fleet graph
 */
func (s *DefinitionStore) Validate() error {
	for _, pod := range s.pods {
		if _, exist := s.byName[pod.Name]; exist {
			return fmt.Errorf("duplicate pod name %q", pod.Name)
		}
		s.byName[pod.Name] = pod
	}

	// 子网两两不重叠
	for i, a := range s.pods {
		if a.Network.Subnet == "" {
			continue
		}
		for _, b := range s.pods[i+1:] {
			if b.Network.Subnet == "" {
				continue
			}
			overlap, err := utils.SubnetsOverlap(a.Network.Subnet, b.Network.Subnet)
			if err != nil {
				return err
			}
			if overlap {
				return &models.NetworkConflictError{Pod: a.Name, Subnet: a.Network.Subnet, OtherPod: b.Name}
			}
		}
	}

	for _, pod := range s.pods {
		seen := make(map[string]bool)
		for i := range pod.Services {
			svc := &pod.Services[i]
			if svc.Name == "" {
				return fmt.Errorf("pod %s: service with empty name", pod.Name)
			}
			if seen[svc.Name] {
				return fmt.Errorf("pod %s: duplicate service name %q", pod.Name, svc.Name)
			}
			seen[svc.Name] = true
			if svc.Image == "" {
				return fmt.Errorf("pod %s: service %s: image is required", pod.Name, svc.Name)
			}
			switch svc.Restart {
			case models.RestartNever, models.RestartOnFailure, models.RestartAlways:
			default:
				return fmt.Errorf("pod %s: service %s: invalid restart policy %q", pod.Name, svc.Name, svc.Restart)
			}
			if hc := svc.Healthcheck; hc != nil {
				switch hc.Kind {
				case models.ProbeCommand, models.ProbeHTTP, models.ProbeTCP:
				default:
					return fmt.Errorf("pod %s: service %s: invalid probe kind %q", pod.Name, svc.Name, hc.Kind)
				}
				if hc.Target == "" {
					return fmt.Errorf("pod %s: service %s: probe target is required", pod.Name, svc.Name)
				}
				if hc.Kind == models.ProbeTCP {
					if _, _, err := net.SplitHostPort(hc.Target); err != nil {
						return fmt.Errorf("pod %s: service %s: tcp probe target must be host:port: %w",
							pod.Name, svc.Name, err)
					}
				}
			}
			for _, dep := range svc.DependsOn {
				if dep == svc.Name {
					return fmt.Errorf("pod %s: service %s depends on itself", pod.Name, svc.Name)
				}
				if pod.Service(dep) == nil {
					return fmt.Errorf("pod %s: service %s depends on unknown service %q", pod.Name, svc.Name, dep)
				}
			}
		}
		// 每个pod的图必须无环
		if _, err := s.PodGraph(pod); err != nil {
			return err
		}
	}

	for _, dep := range s.manifest.Dependencies {
		if dep.Kind != models.DependencyHard && dep.Kind != models.DependencySoft {
			return fmt.Errorf("cross-pod dependency %s -> %s: invalid kind %q", dep.From, dep.To, dep.Kind)
		}
		if dep.From == dep.To {
			return fmt.Errorf("pod %s depends on itself", dep.From)
		}
		if _, exist := s.byName[dep.From]; !exist {
			return fmt.Errorf("cross-pod dependency references unknown pod %q", dep.From)
		}
		if _, exist := s.byName[dep.To]; !exist {
			return fmt.Errorf("cross-pod dependency references unknown pod %q", dep.To)
		}
	}
	if _, err := s.FleetGraph(); err != nil {
		return err
	}
	return nil
}

/**
 * Build the intra-pod dependency graph and verify it is acyclic
 * @returns {[]string} Topological start order of the pod's services
 */
func (s *DefinitionStore) PodGraph(pod *models.PodSpecification) (*graph.Graph, error) {
	g := graph.New("pod " + pod.Name)
	for i := range pod.Services {
		g.AddNode(pod.Services[i].Name)
	}
	for i := range pod.Services {
		svc := &pod.Services[i]
		for _, dep := range svc.DependsOn {
			if err := g.AddDependency(svc.Name, dep); err != nil {
				return nil, err
			}
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

/**
 * Build the fleet-level graph over pods from declared HARD cross-pod
 * dependencies. Soft dependencies never impose ordering: mutual soft
 * references through the host gateway are legitimate.
 */
func (s *DefinitionStore) FleetGraph() (*graph.Graph, error) {
	g := graph.New("fleet")
	for _, pod := range s.pods {
		g.AddNode(pod.Name)
	}
	for _, dep := range s.manifest.Dependencies {
		if dep.Kind != models.DependencyHard {
			continue
		}
		if err := g.AddDependency(dep.From, dep.To); err != nil {
			return nil, err
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// HardDependencies 返回pod声明的硬跨pod依赖
func (s *DefinitionStore) HardDependencies(pod string) []string {
	return s.crossDeps(pod, models.DependencyHard)
}

// SoftDependencies 返回pod声明的软跨pod依赖
func (s *DefinitionStore) SoftDependencies(pod string) []string {
	return s.crossDeps(pod, models.DependencySoft)
}

func (s *DefinitionStore) crossDeps(pod, kind string) []string {
	var deps []string
	for _, dep := range s.manifest.Dependencies {
		if dep.From == pod && dep.Kind == kind {
			deps = append(deps, dep.To)
		}
	}
	return deps
}

// Pods 按manifest声明顺序返回全部pod定义
func (s *DefinitionStore) Pods() []*models.PodSpecification {
	return s.pods
}

// Pod 按名字查找pod定义，不存在时返回nil
func (s *DefinitionStore) Pod(name string) *models.PodSpecification {
	return s.byName[name]
}

// Gateway 共享宿主网关地址
func (s *DefinitionStore) Gateway() string {
	return s.manifest.Gateway
}
