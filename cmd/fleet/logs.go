package fleet

import (
	"fmt"

	"podfleet/cmd/root"
	"podfleet/internal/rpc"
	"podfleet/services"

	"github.com/spf13/cobra"
)

var logsTail int

var logsCmd = &cobra.Command{
	Use:   "logs <pod> <service>",
	Short: "Show a service's log tail",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showLogs(cmd, args[0], args[1])
	},
}

func showLogs(cmd *cobra.Command, pod, service string) error {
	if out, ok := remoteLogs(pod, service); ok {
		fmt.Print(out)
		return nil
	}

	fm, err := services.GetFleetManager()
	if err != nil {
		return err
	}
	out, err := fm.Logs(cmd.Context(), pod, service, logsTail)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func remoteLogs(pod, service string) (string, bool) {
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig())
	defer client.Close()

	path := fmt.Sprintf("/podfleet/api/v1/pods/%s/services/%s/logs?tail=%d", pod, service, logsTail)
	resp, err := client.Get(path)
	if err != nil || !resp.Success() {
		return "", false
	}
	return string(resp.Body), true
}

func init() {
	root.RootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVar(&logsTail, "tail", 100, "number of trailing log lines")
	logsCmd.Example = `  podfleet logs ai brain-api --tail 200`
}
