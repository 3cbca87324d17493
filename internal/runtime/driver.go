package runtime

import (
	"context"
	"time"

	"podfleet/internal/models"
)

/**
 * NetworkSpec 需要驱动保障存在的pod网络
 * @property {string} Name - Network name (pod name)
 * @property {string} Subnet - CIDR of the network
 * @property {bool} Internal - true to cut the network off from the host gateway
 */
type NetworkSpec struct {
	Name     string
	Subnet   string
	Internal bool
}

/**
 * Driver is the collaborator contract every managed service exposes:
 * a start/stop action, a build action producing a fresh artifact, and
 * nothing else. The orchestration core has no visibility into what the
 * service computes internally.
 */
type Driver interface {
	// EnsureNetwork provisions the pod network if absent. Idempotent.
	EnsureNetwork(ctx context.Context, spec NetworkSpec) error
	// RemoveNetwork tears the pod network down. Missing network is not an error.
	RemoveNetwork(ctx context.Context, name string) error

	// StartService creates and starts the service's runtime unit.
	StartService(ctx context.Context, pod, network string, svc *models.ServiceSpecification) error
	// StopService stops the unit within the grace period, keeping it around
	// for logs and reattach.
	StopService(ctx context.Context, pod, name string, grace time.Duration) error
	// RemoveService reaps a stopped unit.
	RemoveService(ctx context.Context, pod, name string) error
	// BuildService produces a fresh runnable artifact for the service.
	BuildService(ctx context.Context, pod string, svc *models.ServiceSpecification) error

	// ServiceRunning reports whether the unit exists and is running.
	ServiceRunning(ctx context.Context, pod, name string) (bool, error)
	// ServiceExitStatus reports whether the unit has exited, and its exit code.
	// A unit that is still running reports exited=false.
	ServiceExitStatus(ctx context.Context, pod, name string) (exited bool, code int, err error)
	// ServiceLogs returns the tail of the unit's log output.
	ServiceLogs(ctx context.Context, pod, name string, tail int) (string, error)
	// RemoveVolume reaps a named volume.
	RemoveVolume(ctx context.Context, name string) error
}

// UnitName 运行单元的名字，pod内服务名唯一，所以拼接后全局唯一
func UnitName(pod, service string) string {
	return pod + "-" + service
}
