package models

import (
	"time"
)

// ServiceState 服务生命周期状态
type ServiceState string

const (
	StatePending   ServiceState = "PENDING"
	StateStarting  ServiceState = "STARTING"
	StateHealthy   ServiceState = "HEALTHY"
	StateUnhealthy ServiceState = "UNHEALTHY"
	StateStopping  ServiceState = "STOPPING"
	StateStopped   ServiceState = "STOPPED"
)

// Active reports whether the state belongs to a service with a live runtime unit.
func (s ServiceState) Active() bool {
	switch s {
	case StateStarting, StateHealthy, StateUnhealthy, StateStopping:
		return true
	}
	return false
}

/**
 * Runtime state of one running service instance
 * @property {string} pod - Owning pod name
 * @property {string} name - Service name
 * @property {ServiceState} state - Lifecycle state
 * @property {int} failures - Consecutive health-check failures
 * @property {int} successes - Consecutive health-check successes
 * @property {int} restarts - Restarts issued by the restart policy
 * @property {string} startTime - Last start time in ISO format
 * @property {time.Time} lastTransition - Last state transition timestamp
 * @property {string} lastError - Last error observed, if any
 */
type RuntimeServiceState struct {
	Pod            string       `json:"pod"`
	Name           string       `json:"name"`
	State          ServiceState `json:"state"`
	Failures       int          `json:"failures"`
	Successes      int          `json:"successes"`
	Restarts       int          `json:"restarts"`
	StartTime      string       `json:"startTime,omitempty"`
	LastTransition time.Time    `json:"lastTransition"`
	LastError      string       `json:"lastError,omitempty"`
}

// ServiceStatus 服务状态快照，附带定义里的咨询性元数据
type ServiceStatus struct {
	RuntimeServiceState
	Resources *ResourceLimits `json:"resources,omitempty"`
}

// PodStatus status()操作的返回结构，纯读不改状态
type PodStatus struct {
	Pod      string          `json:"pod"`
	Services []ServiceStatus `json:"services"`
}
