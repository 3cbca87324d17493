package fleet

import (
	"podfleet/cmd/root"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [pod]",
	Short: "Start a pod, or the whole fleet",
	Long:  `Start the named pod's services in dependency order. Without a pod name, every pod is started in fleet topological order.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd.Context(), "start", targetArg(args))
	},
}

func init() {
	root.RootCmd.AddCommand(startCmd)

	startCmd.Example = `  podfleet start
  podfleet start ai`
}
