package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var capacityJSON bool

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Show combined recovery capacity across all accounts and regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		combined, err := svc.GetCombinedCapacity(ctx)
		if err != nil {
			return err
		}
		if capacityJSON {
			return printJSON(combined)
		}

		for _, acct := range combined.Accounts {
			if acct.Inaccessible {
				fmt.Printf("%s  INACCESSIBLE  %s\n", acct.AccountID, acct.Error)
				continue
			}
			fmt.Printf("%s  replicating=%d  recovery=%d\n", acct.AccountID, acct.Replicating, acct.Recovery)
			for _, r := range acct.Regions {
				if r.Uninitialized {
					fmt.Printf("  %-16s not initialized\n", r.Region)
					continue
				}
				fmt.Printf("  %-16s replicating=%-4d %-14s recovery=%-4d %s\n",
					r.Region, r.Replicating, r.ReplicationStatus, r.RecoveryInstances, r.RecoveryStatus)
			}
		}
		fmt.Printf("combined: %d/%d replicating, %d recovery instances\n",
			combined.TotalReplicating, combined.CombinedCeiling, combined.TotalRecovery)
		for _, w := range combined.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	capacityCmd.Flags().BoolVar(&capacityJSON, "json", false, "Emit JSON")
}
