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

var statusCmd = &cobra.Command{
	Use:   "status [pod]",
	Short: "Show pod status",
	Long:  `Print the lifecycle state of every service. Pure read, never touches any runtime unit.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(targetArg(args))
	},
}

func showStatus(pod string) error {
	statuses, ok := remoteStatus(pod)
	if !ok {
		fm, err := services.GetFleetManager()
		if err != nil {
			return err
		}
		statuses, err = fm.Status(pod)
		if err != nil {
			return err
		}
	}

	fmt.Printf("%-16s %-20s %-10s %-9s %-20s %s\n",
		"POD", "SERVICE", "STATE", "RESTARTS", "STARTED", "LAST ERROR")
	for _, status := range statuses {
		for _, svc := range status.Services {
			fmt.Printf("%-16s %-20s %-10s %-9d %-20s %s\n",
				svc.Pod, svc.Name, svc.State, svc.Restarts, svc.StartTime, svc.LastError)
		}
	}
	return nil
}

func remoteStatus(pod string) ([]*models.PodStatus, bool) {
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig())
	defer client.Close()

	if pod == "" {
		resp, err := client.Get("/podfleet/api/v1/pods")
		if err != nil || !resp.Success() {
			return nil, false
		}
		var statuses []*models.PodStatus
		if err := json.Unmarshal(resp.Body, &statuses); err != nil {
			return nil, false
		}
		return statuses, true
	}

	resp, err := client.Get("/podfleet/api/v1/pods/" + pod)
	if err != nil || !resp.Success() {
		return nil, false
	}
	var status models.PodStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, false
	}
	return []*models.PodStatus{&status}, true
}

func init() {
	root.RootCmd.AddCommand(statusCmd)

	statusCmd.Example = `  podfleet status
  podfleet status ai`
}
