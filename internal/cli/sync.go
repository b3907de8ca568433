package cli

import (
	"github.com/spf13/cobra"

	"github.com/recoverly-io/recoverly/internal/controlplane"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync <group-id>",
	Short: "Reconcile a protection group's launch configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		result, err := svc.SyncLaunchConfigs(ctx, controlplane.SyncLaunchConfigsRequest{
			GroupID: args[0],
			Force:   syncForce,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Re-apply even if the configuration is unchanged")
}
