package fleet

import (
	"podfleet/cmd/root"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [pod]",
	Short: "Rebuild a pod, or the whole fleet",
	Long:  `Stop the pod, rebuild every service artifact, then start it again. A failed build aborts before any service starts, so the pod never runs on mixed artifacts.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd.Context(), "build", targetArg(args))
	},
}

func init() {
	root.RootCmd.AddCommand(buildCmd)

	buildCmd.Example = `  podfleet build ai`
}
