package models

// Probe kinds supported by the health supervisor.
const (
	ProbeCommand = "command"
	ProbeHTTP    = "http"
	ProbeTCP     = "tcp"
)

// Restart policies applied after a runtime health regression.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Cross-pod dependency kinds declared in the fleet manifest.
const (
	DependencyHard = "hard"
	DependencySoft = "soft"
)

/**
 * Health probe configuration
 * @property {string} kind - Probe kind: command/http/tcp
 * @property {string} target - Command line, URL or host:port to probe
 * @property {Duration} interval - Polling interval
 * @property {Duration} timeout - Per-probe timeout
 * @property {int} retries - Consecutive failures tolerated before UNHEALTHY
 * @property {Duration} start_period - Grace window after start during which failures aren't counted
 */
type HealthcheckSpec struct {
	Kind        string   `yaml:"kind" json:"kind"`
	Target      string   `yaml:"target" json:"target"`
	Interval    Duration `yaml:"interval" json:"interval"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	Retries     int      `yaml:"retries" json:"retries"`
	StartPeriod Duration `yaml:"start_period" json:"startPeriod"`
}

/**
 * Advisory resource limits, surfaced in status but never enforced
 * @property {int64} memory_mb - Memory limit in MiB
 * @property {float64} cpus - CPU share limit
 */
type ResourceLimits struct {
	MemoryMB int64   `yaml:"memory_mb" json:"memoryMb,omitempty"`
	CPUs     float64 `yaml:"cpus" json:"cpus,omitempty"`
}

/**
 * Service definition, immutable once loaded
 * @property {string} name - Service name, unique within its pod
 * @property {string} image - Container image reference
 * @property {string} build - Build context directory (optional, overrides pull)
 * @property {[]string} command - Command override
 * @property {[]string} ports - Published ports ("host:container")
 * @property {map} environment - Environment bindings
 * @property {[]string} volumes - Volume mounts ("name-or-path:target")
 * @property {string} address - Optional static address on the pod network
 * @property {[]string} depends_on - Names of same-pod services that must be healthy first
 * @property {HealthcheckSpec} healthcheck - Health probe specification
 * @property {string} restart - Restart policy: never/on-failure/always
 * @property {ResourceLimits} resources - Advisory resource limits
 */
type ServiceSpecification struct {
	Name        string            `yaml:"name" json:"name"`
	Image       string            `yaml:"image" json:"image,omitempty"`
	Build       string            `yaml:"build" json:"build,omitempty"`
	Command     []string          `yaml:"command" json:"command,omitempty"`
	Ports       []string          `yaml:"ports" json:"ports,omitempty"`
	Environment map[string]string `yaml:"environment" json:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes" json:"volumes,omitempty"`
	Address     string            `yaml:"address" json:"address,omitempty"`
	DependsOn   []string          `yaml:"depends_on" json:"dependsOn,omitempty"`
	Healthcheck *HealthcheckSpec  `yaml:"healthcheck" json:"healthcheck,omitempty"`
	Restart     string            `yaml:"restart" json:"restart,omitempty"`
	Resources   *ResourceLimits   `yaml:"resources" json:"resources,omitempty"`
}

/**
 * Pod network specification
 * @property {string} subnet - CIDR of the pod's own network segment
 * @property {bool} internal - true to isolate the network from the host gateway
 */
type PodNetworkSpec struct {
	Subnet   string `yaml:"subnet" json:"subnet"`
	Internal bool   `yaml:"internal" json:"internal,omitempty"`
}

/**
 * Pod definition (pods/<name>.yaml)
 * @property {string} name - Pod name, unique within the fleet
 * @property {PodNetworkSpec} network - The pod's own network segment
 * @property {[]ServiceSpecification} services - Services of the pod
 * @property {[]string} volumes - Named volumes owned by the pod
 */
type PodSpecification struct {
	Name     string                 `yaml:"name" json:"name"`
	Network  PodNetworkSpec         `yaml:"network" json:"network"`
	Services []ServiceSpecification `yaml:"services" json:"services"`
	Volumes  []string               `yaml:"volumes" json:"volumes,omitempty"`
}

// Service 按名字查找服务定义，不存在时返回nil
func (p *PodSpecification) Service(name string) *ServiceSpecification {
	for i := range p.Services {
		if p.Services[i].Name == name {
			return &p.Services[i]
		}
	}
	return nil
}

/**
 * Reference to a pod document inside the fleet manifest
 * @property {string} name - Pod name
 * @property {string} file - Pod document path, relative to the manifest
 */
type PodReference struct {
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

/**
 * Cross-pod dependency declaration
 * @property {string} from - Dependent pod
 * @property {string} to - Dependency pod
 * @property {string} kind - hard (blocking) or soft (advisory)
 */
type CrossPodDependency struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	Kind string `yaml:"kind" json:"kind"`
}

/**
 * Fleet manifest (fleet.yaml)
 * @property {string} configuration - Manifest format version
 * @property {string} gateway - Shared host gateway address for cross-pod traffic
 * @property {[]PodReference} pods - Pod documents of the fleet
 * @property {[]CrossPodDependency} dependencies - Declared cross-pod dependencies
 */
type FleetManifest struct {
	Configuration string               `yaml:"configuration" json:"configuration,omitempty"`
	Gateway       string               `yaml:"gateway" json:"gateway,omitempty"`
	Pods          []PodReference       `yaml:"pods" json:"pods"`
	Dependencies  []CrossPodDependency `yaml:"dependencies" json:"dependencies,omitempty"`
}
