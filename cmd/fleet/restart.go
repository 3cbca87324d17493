package fleet

import (
	"podfleet/cmd/root"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart [pod]",
	Short: "Restart a pod, or the whole fleet",
	Long:  `Stop, pause for the quiesce delay, then start again. Without a pod name the whole fleet is restarted.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd.Context(), "restart", targetArg(args))
	},
}

func init() {
	root.RootCmd.AddCommand(restartCmd)

	restartCmd.Example = `  podfleet restart ai`
}
