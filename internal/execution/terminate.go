package execution

import (
	"context"

	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
)

// TerminationResult distinguishes terminated instances from per-instance
// failures. A partial failure is not fatal to the operation.
type TerminationResult struct {
	Terminated []string          `json:"terminated"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// CanTerminate reports whether the execution's recovery instances may be
// terminated, and if not, the blocking reason.
func CanTerminate(x *model.Execution) (bool, string) {
	if !x.Status.Terminal() {
		return false, "execution is not in a terminal state"
	}
	if x.InstancesTerminated {
		return false, "instances were already terminated"
	}
	hasJob := false
	for _, wave := range x.Waves {
		if wave.Status.Active() {
			return false, "a wave is still active"
		}
		if wave.JobID != "" {
			hasJob = true
		}
	}
	if !hasJob {
		return false, "no wave produced a job, so nothing was launched"
	}
	return true, ""
}

// TerminateInstances issues one backend termination call per recovery
// instance across all waves. Failures are isolated per instance and the
// remaining instances are still attempted.
func (e *Engine) TerminateInstances(ctx context.Context, executionID, planID string) (*TerminationResult, error) {
	x, err := e.records.GetExecution(ctx, executionID, planID)
	if err != nil {
		return nil, err
	}
	if ok, reason := CanTerminate(x); !ok {
		return nil, &errdefs.InvalidState{Operation: "terminate instances", State: reason}
	}

	be, err := e.backends.Backend(ctx, x.AccountID, x.Region)
	if err != nil {
		return nil, err
	}

	result := &TerminationResult{Failed: make(map[string]string)}
	for _, wave := range x.Waves {
		for _, s := range wave.Servers {
			if s.RecoveryInstanceID == "" {
				continue
			}
			if err := be.TerminateInstance(ctx, s.RecoveryInstanceID); err != nil {
				logging.Warn("failed to terminate recovery instance",
					"execution", executionID, "instance", s.RecoveryInstanceID, "error", err)
				result.Failed[s.RecoveryInstanceID] = err.Error()
				continue
			}
			result.Terminated = append(result.Terminated, s.RecoveryInstanceID)
		}
	}

	x.InstancesTerminated = true
	if err := e.records.SaveExecution(ctx, x); err != nil {
		return nil, err
	}
	logging.Info("terminated recovery instances", "execution", executionID,
		"terminated", len(result.Terminated), "failed", len(result.Failed))
	return result, nil
}
