package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recoverly-io/recoverly/internal/controlplane"
	"github.com/recoverly-io/recoverly/internal/execution"
)

var executionCmd = &cobra.Command{
	Use:   "execution",
	Short: "Run and control plan executions",
}

var (
	execPlanID string
	execDrill  bool
)

var execStartCmd = &cobra.Command{
	Use:   "start <plan-id>",
	Short: "Start an execution of a recovery plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		x, err := svc.StartExecution(ctx, controlplane.StartExecutionRequest{
			PlanID:  args[0],
			IsDrill: execDrill,
		})
		if err != nil {
			return err
		}
		return printJSON(x)
	},
}

func execKeyArgs(args []string) controlplane.ExecutionRequest {
	return controlplane.ExecutionRequest{ExecutionID: args[0], PlanID: execPlanID}
}

var execPollCmd = &cobra.Command{
	Use:   "poll <execution-id>",
	Short: "Poll the in-flight wave and advance the execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		x, err := svc.PollExecution(ctx, execKeyArgs(args))
		if err != nil {
			return err
		}
		return printJSON(x)
	},
}

var execPauseCmd = &cobra.Command{
	Use:   "pause <execution-id>",
	Short: "Pause before the next wave submits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		return svc.PauseExecution(ctx, execKeyArgs(args))
	},
}

var execResumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume a paused execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		return svc.ResumeExecution(ctx, execKeyArgs(args))
	},
}

var execCancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an execution at the next wave boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		return svc.CancelExecution(ctx, execKeyArgs(args))
	},
}

var execTerminateCmd = &cobra.Command{
	Use:   "terminate <execution-id>",
	Short: "Terminate every recovery instance of a finished execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		result, err := svc.TerminateExecutionInstances(ctx, execKeyArgs(args))
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var execShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		x, err := svc.GetExecution(ctx, execKeyArgs(args))
		if err != nil {
			return err
		}
		if ok, reason := execution.CanTerminate(x); !ok {
			fmt.Printf("terminate: blocked (%s)\n", reason)
		} else {
			fmt.Println("terminate: available")
		}
		return printJSON(x)
	},
}

var execListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		execs, err := svc.ListExecutions(ctx)
		if err != nil {
			return err
		}
		for _, x := range execs {
			fmt.Printf("%s  plan=%s  %s  waves=%d  drill=%t\n",
				x.ExecutionID, x.PlanID, x.Status, len(x.Waves), x.IsDrill)
		}
		return nil
	},
}

func init() {
	execStartCmd.Flags().BoolVar(&execDrill, "drill", false, "Launch a drill from snapshots")
	for _, cmd := range []*cobra.Command{execPollCmd, execPauseCmd, execResumeCmd, execCancelCmd, execTerminateCmd, execShowCmd} {
		cmd.Flags().StringVar(&execPlanID, "plan", "", "Plan id of the execution")
		_ = cmd.MarkFlagRequired("plan")
	}

	executionCmd.AddCommand(execStartCmd)
	executionCmd.AddCommand(execPollCmd)
	executionCmd.AddCommand(execPauseCmd)
	executionCmd.AddCommand(execResumeCmd)
	executionCmd.AddCommand(execCancelCmd)
	executionCmd.AddCommand(execTerminateCmd)
	executionCmd.AddCommand(execShowCmd)
	executionCmd.AddCommand(execListCmd)
}
