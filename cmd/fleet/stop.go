package fleet

import (
	"podfleet/cmd/root"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [pod]",
	Short: "Stop a pod, or the whole fleet",
	Long:  `Stop the named pod's services in reverse dependency order, best effort. Without a pod name, every pod is stopped in reverse fleet order.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd.Context(), "stop", targetArg(args))
	},
}

func init() {
	root.RootCmd.AddCommand(stopCmd)

	stopCmd.Example = `  podfleet stop
  podfleet stop ai`
}
