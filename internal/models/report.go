package models

import (
	"time"
)

// Outcomes of one per-service action inside a pod/fleet operation.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// ServiceActionResult 单个服务动作的结果
// @Description Result of one start/stop/build action on a service
type ServiceActionResult struct {
	Pod     string `json:"pod" example:"ai" description:"所属pod"`
	Service string `json:"service" example:"brain-api" description:"服务名称"`
	Action  string `json:"action" example:"start" description:"执行的动作"`
	Outcome string `json:"outcome" example:"ok" description:"动作结果"`
	Error   string `json:"error,omitempty" description:"错误信息"`
}

// PodReport 一次pod操作的聚合结果，部分成功是一等公民
// @Description Aggregated result of a pod operation
type PodReport struct {
	Pod     string                `json:"pod"`
	Action  string                `json:"action"`
	Results []ServiceActionResult `json:"results"`
}

// Failures 返回所有未成功的服务动作
func (r *PodReport) Failures() []ServiceActionResult {
	var failed []ServiceActionResult
	for _, res := range r.Results {
		if res.Outcome != OutcomeOK && res.Outcome != OutcomeSkipped {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r *PodReport) Ok() bool {
	return len(r.Failures()) == 0
}

// FleetReport 一次fleet级操作的聚合结果
// @Description Aggregated result of a fleet-wide operation
type FleetReport struct {
	Action   string       `json:"action"`
	Pods     []*PodReport `json:"pods"`
	Warnings []string     `json:"warnings,omitempty" description:"软依赖等非阻塞告警"`
}

func (r *FleetReport) Ok() bool {
	for _, p := range r.Pods {
		if !p.Ok() {
			return false
		}
	}
	return true
}

// Failures 汇总所有pod里未成功的服务动作
func (r *FleetReport) Failures() []ServiceActionResult {
	var failed []ServiceActionResult
	for _, p := range r.Pods {
		failed = append(failed, p.Failures()...)
	}
	return failed
}

// ServiceHealthResult 主动探测一次后单个服务的健康结果
// @Description Health result for one service after an on-demand probe
type ServiceHealthResult struct {
	Pod     string       `json:"pod" example:"ai"`
	Service string       `json:"service" example:"memory-db"`
	State   ServiceState `json:"state" example:"HEALTHY"`
	Healthy bool         `json:"healthy" example:"true"`
	Error   string       `json:"error,omitempty"`
}

// FleetHealthReport health()操作的聚合报告
// @Description Aggregated health report across every known service
type FleetHealthReport struct {
	Timestamp  time.Time             `json:"timestamp"`
	Services   []ServiceHealthResult `json:"services"`
	Warnings   []string              `json:"warnings,omitempty"`
	AllHealthy bool                  `json:"allHealthy"`
}

// HealthResponse 守护进程自身的就绪探针响应
// @Description Readiness response of the podfleet daemon itself
type HealthResponse struct {
	Version   string `json:"version" example:"1.0.0"`
	StartTime string `json:"startTime" example:"2025-01-01T10:00:00Z"`
	Status    string `json:"status" example:"UP"`
	Uptime    string `json:"uptime" example:"1h30m45s"`
}
