package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"

	"podfleet/internal/models"
	"podfleet/internal/utils"
)

// ProbeFunc 执行一次健康探测，nil表示通过
type ProbeFunc func(ctx context.Context) error

/**
 * Build a probe runner from the service's healthcheck specification
 * @description
 * - command probes run the target line through the shell and pass on exit 0
 * - http probes GET the target URL and pass on any 2xx status
 * - tcp probes pass when the target host:port accepts a connection
 * - The per-probe timeout is enforced by the caller through ctx, so a hanging
 *   probe for one service never delays another service's probe
 */
func BuildProbe(hc *models.HealthcheckSpec) ProbeFunc {
	switch hc.Kind {
	case models.ProbeCommand:
		target := hc.Target
		return func(ctx context.Context) error {
			cmd := exec.CommandContext(ctx, "sh", "-c", target)
			if out, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("command probe failed: %v (%.200s)", err, string(out))
			}
			return nil
		}
	case models.ProbeHTTP:
		target := hc.Target
		return func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
			if err != nil {
				return fmt.Errorf("http probe failed: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("http probe failed: %w", err)
			}
			resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("http probe failed: status %d", resp.StatusCode)
			}
			return nil
		}
	case models.ProbeTCP:
		host, portRaw, err := net.SplitHostPort(hc.Target)
		if err == nil {
			var port int
			port, err = strconv.Atoi(portRaw)
			if err == nil {
				return func(ctx context.Context) error {
					if !utils.CheckPortConnectable(host, port) {
						return fmt.Errorf("tcp probe failed: %s not connectable", net.JoinHostPort(host, portRaw))
					}
					return nil
				}
			}
		}
		target := hc.Target
		return func(ctx context.Context) error {
			return fmt.Errorf("tcp probe failed: invalid target %q: %v", target, err)
		}
	default:
		kind := hc.Kind
		return func(ctx context.Context) error {
			return fmt.Errorf("unsupported probe kind %q", kind)
		}
	}
}
