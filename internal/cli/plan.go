package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/recoverly-io/recoverly/internal/controlplane"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage recovery plans",
}

var (
	planName    string
	planAccount string
	planRegion  string
	planFile    string
	planVersion int64
)

// planFileShape is the YAML wave list accepted by create/update.
type planFileShape struct {
	Waves []model.Wave `yaml:"waves"`
}

func loadWaves(path string) ([]model.Wave, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read waves file %s: %w", path, err)
	}
	var shape planFileShape
	if err := yaml.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("failed to parse waves file %s: %w", path, err)
	}
	return shape.Waves, nil
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a recovery plan from a waves file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		waves, err := loadWaves(planFile)
		if err != nil {
			return err
		}
		p, warnings, err := svc.CreateRecoveryPlan(ctx, controlplane.CreateRecoveryPlanRequest{
			Name:      planName,
			AccountID: planAccount,
			Region:    planRegion,
			Waves:     waves,
		})
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
		}
		return printJSON(p)
	},
}

var planUpdateCmd = &cobra.Command{
	Use:   "update <plan-id>",
	Short: "Update a recovery plan (requires the last observed version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}

		patch := store.PlanPatch{}
		if cmd.Flags().Changed("name") {
			patch.Name = &planName
		}
		if cmd.Flags().Changed("waves-file") {
			waves, err := loadWaves(planFile)
			if err != nil {
				return err
			}
			patch.Waves = &waves
		}

		p, warnings, err := svc.UpdateRecoveryPlan(ctx, controlplane.UpdateRecoveryPlanRequest{
			PlanID:  args[0],
			Version: planVersion,
			Patch:   patch,
		})
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
		}
		return printJSON(p)
	},
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recovery plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		plans, err := svc.ListRecoveryPlans(ctx)
		if err != nil {
			return err
		}
		for _, p := range plans {
			fmt.Printf("%s  v%d  %s  %s/%s  waves=%d\n",
				p.PlanID, p.Version, p.Name, p.AccountID, p.Region, len(p.Waves))
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{planCreateCmd, planUpdateCmd} {
		cmd.Flags().StringVar(&planName, "name", "", "Plan name")
		cmd.Flags().StringVar(&planFile, "waves-file", "", "YAML file with the wave list")
	}
	planCreateCmd.Flags().StringVar(&planAccount, "account", "", "Owning account id")
	planCreateCmd.Flags().StringVar(&planRegion, "region", "", "Region")
	_ = planCreateCmd.MarkFlagRequired("waves-file")
	planUpdateCmd.Flags().Int64Var(&planVersion, "version", 0, "Last observed record version")
	_ = planUpdateCmd.MarkFlagRequired("version")

	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planUpdateCmd)
	planCmd.AddCommand(planListCmd)
}
