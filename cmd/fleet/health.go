package fleet

import (
	"encoding/json"
	"fmt"

	"podfleet/cmd/root"
	"podfleet/internal/models"
	"podfleet/internal/rpc"
	"podfleet/services"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every service once and report",
	Long:  `Run one active health probe against every known service, concurrently, and print the aggregated report. Exits non-zero unless every service is healthy.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showHealth(cmd)
	},
}

func showHealth(cmd *cobra.Command) error {
	report, ok := remoteHealth()
	if !ok {
		fm, err := services.GetFleetManager()
		if err != nil {
			return err
		}
		report = fm.Health(cmd.Context())
	}

	for _, warning := range report.Warnings {
		fmt.Printf("WARNING: %s\n", warning)
	}
	fmt.Printf("%-16s %-20s %-10s %-8s %s\n", "POD", "SERVICE", "STATE", "HEALTHY", "ERROR")
	for _, svc := range report.Services {
		fmt.Printf("%-16s %-20s %-10s %-8v %s\n",
			svc.Pod, svc.Service, svc.State, svc.Healthy, svc.Error)
	}
	if !report.AllHealthy {
		return fmt.Errorf("some services are not healthy")
	}
	return nil
}

func remoteHealth() (*models.FleetHealthReport, bool) {
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig())
	defer client.Close()

	resp, err := client.Get("/podfleet/api/v1/health")
	if err != nil || !resp.Success() {
		return nil, false
	}
	var report models.FleetHealthReport
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		return nil, false
	}
	return &report, true
}

func init() {
	root.RootCmd.AddCommand(healthCmd)

	healthCmd.Example = `  podfleet health`
}
