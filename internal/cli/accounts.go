package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recoverly-io/recoverly/internal/controlplane"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the account roster",
}

var (
	accountRole    string
	accountDefault bool
)

var accountAddCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Register a target or staging account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		return svc.RegisterAccount(ctx, controlplane.RegisterAccountRequest{
			AccountID: args[0],
			RoleARN:   accountRole,
			IsDefault: accountDefault,
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		roster, err := svc.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range roster {
			marker := ""
			if a.IsDefault {
				marker = "  (default)"
			}
			fmt.Printf("%s  %s%s\n", a.AccountID, a.RoleARN, marker)
		}
		return nil
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&accountRole, "role-arn", "", "Cross-account assumable role ARN")
	accountAddCmd.Flags().BoolVar(&accountDefault, "default", false, "Mark as the default (target) account")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
}
