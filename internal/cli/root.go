package cli

import (
	"github.com/spf13/cobra"

	"github.com/recoverly-io/recoverly/internal/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "recoverly",
	Short: "Disaster-recovery failover orchestration",
	Long: `Recoverly orchestrates disaster-recovery failover of server fleets:
protection groups, multi-wave recovery plans, and quota-gated executions
against the recovery backend, across accounts and regions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel, flagLogFormat)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(capacityCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}
