package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"podfleet/internal/models"
	"podfleet/internal/rpc"
	"podfleet/services"
)

/**
 * Run one lifecycle verb, preferring the running daemon
 * @param {string} verb - start/stop/restart/build
 * @param {string} pod - Target pod, empty for the whole fleet
 * @returns {error} Non-nil when any service action failed, so the process
 *                  exits non-zero on partial success
 * @description
 * - First tries the podfleet daemon over its unix socket; if the daemon is
 *   not reachable the verb runs in-process against the local definitions
 * - The per-service breakdown is always printed, success or not
 */
func runVerb(ctx context.Context, verb, pod string) error {
	report, ok := remoteVerb(verb, pod)
	if !ok {
		var err error
		report, err = localVerb(ctx, verb, pod)
		if err != nil {
			return err
		}
	}

	printFleetReport(report)
	if failures := report.Failures(); len(failures) > 0 {
		return fmt.Errorf("%s finished with %d failed service action(s)", verb, len(failures))
	}
	return nil
}

// remoteVerb 通过守护进程执行verb，守护进程不在时返回false走本地
func remoteVerb(verb, pod string) (*models.FleetReport, bool) {
	cfg := rpc.DefaultHTTPConfig()
	cfg.Timeout = 15 * time.Minute // build可能很久
	client := rpc.NewHTTPClient(cfg)
	defer client.Close()

	path := "/podfleet/api/v1/fleet/" + verb
	if pod != "" {
		path = "/podfleet/api/v1/pods/" + pod + "/" + verb
	}
	resp, err := client.Post(path, nil)
	if err != nil || !resp.Success() {
		return nil, false
	}
	var report models.FleetReport
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		return nil, false
	}
	return &report, true
}

// localVerb 守护进程不可用时在本进程里直接执行
func localVerb(ctx context.Context, verb, pod string) (*models.FleetReport, error) {
	fm, err := services.GetFleetManager()
	if err != nil {
		return nil, err
	}
	switch verb {
	case "start":
		return fm.Start(ctx, pod)
	case "stop":
		return fm.Stop(ctx, pod)
	case "restart":
		return fm.Restart(ctx, pod)
	case "build":
		return fm.Build(ctx, pod)
	}
	return nil, fmt.Errorf("unknown verb %q", verb)
}

// printFleetReport 逐服务打印动作结果，部分成功时失败项一目了然
func printFleetReport(report *models.FleetReport) {
	for _, warning := range report.Warnings {
		fmt.Printf("WARNING: %s\n", warning)
	}
	for _, pod := range report.Pods {
		for _, res := range pod.Results {
			name := res.Service
			if name == "" {
				name = "-"
			}
			if res.Error != "" {
				fmt.Printf("  %-16s %-20s %-8s %-10s %s\n",
					pod.Pod, name, res.Action, res.Outcome, res.Error)
			} else {
				fmt.Printf("  %-16s %-20s %-8s %s\n",
					pod.Pod, name, res.Action, res.Outcome)
			}
		}
	}
}

// targetArg verb的可选pod参数
func targetArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
