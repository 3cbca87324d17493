package fleet

import (
	"fmt"

	"podfleet/cmd/root"
	"podfleet/internal/rpc"
	"podfleet/services"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [pod]",
	Short: "Reap stopped units, volumes and networks",
	Long:  `Remove the pod's containers, named volumes and network. Refuses while any service is still running; stop the pod first.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cleanPods(cmd, targetArg(args))
	},
}

func cleanPods(cmd *cobra.Command, pod string) error {
	if pod != "" {
		if ok := remoteClean(pod); ok {
			fmt.Printf("Pod %s has been cleaned\n", pod)
			return nil
		}
	}

	fm, err := services.GetFleetManager()
	if err != nil {
		return err
	}
	if err := fm.Clean(cmd.Context(), pod); err != nil {
		return err
	}
	if pod == "" {
		fmt.Println("Fleet has been cleaned")
	} else {
		fmt.Printf("Pod %s has been cleaned\n", pod)
	}
	return nil
}

func remoteClean(pod string) bool {
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig())
	defer client.Close()

	resp, err := client.Post("/podfleet/api/v1/pods/"+pod+"/clean", nil)
	return err == nil && resp.Success()
}

func init() {
	root.RootCmd.AddCommand(cleanCmd)

	cleanCmd.Example = `  podfleet clean ai`
}
