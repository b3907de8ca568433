// Package execution drives a recovery plan's execution from start to a
// terminal state: one wave at a time, each wave gated by the admission
// engine, with poll called repeatedly by an external scheduler.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly-io/recoverly/internal/admission"
	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
)

// Engine is the wave execution engine. It is the only writer of execution
// records.
type Engine struct {
	records   *store.Records
	admission *admission.Engine
	backends  backend.Factory
	now       func() time.Time
	newID     func() string
}

// NewEngine builds a wave execution engine.
func NewEngine(records *store.Records, adm *admission.Engine, backends backend.Factory) *Engine {
	return &Engine{
		records:   records,
		admission: adm,
		backends:  backends,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Start validates the plan end to end, persists the new execution in
// PENDING, then submits the admitted first wave and moves it to IN_PROGRESS.
// Nothing is persisted if any wave fails to resolve: structural errors never
// leave partial state. A failed first submission leaves the pending record
// for poll to retry.
func (e *Engine) Start(ctx context.Context, planID string, isDrill bool) (*model.Execution, error) {
	plan, err := e.records.GetRecoveryPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	be, err := e.backends.Backend(ctx, plan.AccountID, plan.Region)
	if err != nil {
		return nil, err
	}

	waves := plan.SortedWaves()
	waveExecs := make([]model.WaveExecution, 0, len(waves))
	total := 0
	for _, wave := range waves {
		serverIDs, err := e.resolveWave(ctx, be, wave)
		if err != nil {
			return nil, err
		}
		if len(serverIDs) == 0 {
			return nil, &errdefs.EmptyWave{PlanID: planID, WaveNumber: wave.WaveNumber}
		}
		total += len(serverIDs)

		servers := make([]model.ServerExecution, 0, len(serverIDs))
		for _, id := range serverIDs {
			servers = append(servers, model.ServerExecution{SourceServerID: id})
		}
		waveExecs = append(waveExecs, model.WaveExecution{
			WaveNumber: wave.WaveNumber,
			Name:       wave.Name,
			Status:     model.WavePending,
			Servers:    servers,
		})
	}
	if total > model.MaxServersPerPlan {
		return nil, &errdefs.PlanValidation{
			PlanID: planID,
			Reason: fmt.Sprintf("plan resolves to %d servers, exceeding the per-plan ceiling of %d", total, model.MaxServersPerPlan),
		}
	}

	first := &waveExecs[0]
	adm, err := e.admission.CheckAdmission(ctx, plan.AccountID, plan.Region, serverIDs(first), "")
	if err != nil {
		return nil, err
	}
	for _, w := range adm.Warnings {
		logging.Warn("admission advisory", "plan", planID, "kind", w.Kind, "message", w.Message)
	}

	x := &model.Execution{
		ExecutionID: e.newID(),
		PlanID:      planID,
		AccountID:   plan.AccountID,
		Region:      plan.Region,
		Status:      model.ExecutionPending,
		IsDrill:     isDrill,
		Waves:       waveExecs,
		StartedAt:   e.now().UTC(),
	}
	if err := e.records.SaveExecution(ctx, x); err != nil {
		return nil, err
	}

	if err := e.submitWave(ctx, be, x, first); err != nil {
		return nil, err
	}
	x.Status = model.ExecutionInProgress
	if err := e.records.SaveExecution(ctx, x); err != nil {
		return nil, err
	}
	logging.Info("started execution", "execution", x.ExecutionID, "plan", planID,
		"waves", len(waveExecs), "drill", isDrill)
	return x, nil
}

// Poll re-reads the backend status of the currently polling wave and applies
// at most one state transition. Repeated calls with no backend-side change
// are no-ops. A completed wave submits the next one unless the execution is
// paused, cancelled, or out of waves.
func (e *Engine) Poll(ctx context.Context, executionID, planID string) (*model.Execution, error) {
	x, err := e.records.GetExecution(ctx, executionID, planID)
	if err != nil {
		return nil, err
	}

	wave := pollingWave(x)
	if wave == nil {
		// Nothing in flight. A pending or running execution whose next wave
		// never got submitted had its submission denied earlier; retry now.
		if x.Status != model.ExecutionPending && x.Status != model.ExecutionInProgress {
			return x, nil
		}
		next := x.CurrentWave()
		if next == nil {
			// Every wave finished while the execution was paused; close out.
			x.Status = model.ExecutionCompleted
			if err := e.records.SaveExecution(ctx, x); err != nil {
				return nil, err
			}
			return x, nil
		}
		if next.Status != model.WavePending {
			return x, nil
		}
		be, err := e.backends.Backend(ctx, x.AccountID, x.Region)
		if err != nil {
			return nil, err
		}
		if err := e.advance(ctx, be, x); err != nil {
			return x, err
		}
		x.Status = model.ExecutionInProgress
		if err := e.records.SaveExecution(ctx, x); err != nil {
			return nil, err
		}
		return x, nil
	}

	be, err := e.backends.Backend(ctx, x.AccountID, x.Region)
	if err != nil {
		return nil, err
	}
	job, err := be.DescribeJob(ctx, wave.JobID)
	if err != nil {
		return nil, err
	}

	applyJobToWave(wave, job, e.now().UTC())

	switch {
	case job.Status == backend.JobFailed:
		e.failWave(x, wave)
	case job.Status == backend.JobCompleted && allLaunched(wave):
		wave.Status = model.WaveCompleted
		wave.FinishedAt = e.now().UTC()
		logging.Info("wave completed", "execution", x.ExecutionID, "wave", wave.WaveNumber)
		if err := e.advance(ctx, be, x); err != nil {
			// Persist the completed wave before surfacing the admission
			// denial; the next poll retries the submission.
			if saveErr := e.records.SaveExecution(ctx, x); saveErr != nil {
				return nil, saveErr
			}
			return x, err
		}
	case job.Status == backend.JobCompleted:
		// Job finished but some server never launched.
		e.failWave(x, wave)
	}

	if err := e.records.SaveExecution(ctx, x); err != nil {
		return nil, err
	}
	return x, nil
}

// Pause stops the execution from submitting its next wave. The in-flight
// wave, if any, continues to completion; pausing never interrupts a job.
func (e *Engine) Pause(ctx context.Context, executionID, planID string) error {
	x, err := e.records.GetExecution(ctx, executionID, planID)
	if err != nil {
		return err
	}
	if x.Status != model.ExecutionInProgress {
		return &errdefs.InvalidState{Operation: "pause", State: string(x.Status)}
	}
	x.Status = model.ExecutionPaused
	logging.Info("paused execution", "execution", executionID)
	return e.records.SaveExecution(ctx, x)
}

// Resume returns a paused execution to IN_PROGRESS and re-evaluates whether
// the next wave should be submitted.
func (e *Engine) Resume(ctx context.Context, executionID, planID string) error {
	x, err := e.records.GetExecution(ctx, executionID, planID)
	if err != nil {
		return err
	}
	if x.Status != model.ExecutionPaused {
		return &errdefs.InvalidState{Operation: "resume", State: string(x.Status)}
	}
	x.Status = model.ExecutionInProgress

	// If the previous wave finished while paused, the next wave is held at
	// the boundary and needs submitting now.
	if wave := x.CurrentWave(); wave != nil && (wave.Status == model.WavePending || wave.Status == model.WavePaused) {
		be, err := e.backends.Backend(ctx, x.AccountID, x.Region)
		if err != nil {
			return err
		}
		if _, err := e.admission.CheckAdmission(ctx, x.AccountID, x.Region, serverIDs(wave), x.ExecutionID); err != nil {
			return err
		}
		if err := e.submitWave(ctx, be, x, wave); err != nil {
			return err
		}
	}
	logging.Info("resumed execution", "execution", executionID)
	return e.records.SaveExecution(ctx, x)
}

// Cancel transitions the execution to CANCELLED. It is cooperative: an
// in-flight wave keeps polling to its own terminal state, no further wave is
// submitted, and nothing already launched is rolled back.
func (e *Engine) Cancel(ctx context.Context, executionID, planID string) error {
	x, err := e.records.GetExecution(ctx, executionID, planID)
	if err != nil {
		return err
	}
	if x.Status.Terminal() {
		return &errdefs.InvalidState{Operation: "cancel", State: string(x.Status)}
	}
	x.Status = model.ExecutionCancelled
	logging.Info("cancelled execution", "execution", executionID)
	return e.records.SaveExecution(ctx, x)
}

// advance submits the next pending wave, or completes the execution when
// none is left. A paused execution holds its next wave in PAUSED at the
// boundary; a cancelled one submits nothing further.
func (e *Engine) advance(ctx context.Context, be backend.RecoveryBackend, x *model.Execution) error {
	next := x.CurrentWave()
	if x.Status == model.ExecutionPaused {
		if next != nil && next.Status == model.WavePending {
			next.Status = model.WavePaused
		}
		return nil
	}
	if x.Status == model.ExecutionCancelled {
		return nil
	}

	if next == nil {
		x.Status = model.ExecutionCompleted
		logging.Info("execution completed", "execution", x.ExecutionID)
		return nil
	}

	if _, err := e.admission.CheckAdmission(ctx, x.AccountID, x.Region, serverIDs(next), x.ExecutionID); err != nil {
		return err
	}
	return e.submitWave(ctx, be, x, next)
}

// submitWave runs the narrow pre-submission re-check and submits the wave's
// job. The check and the submission are not atomic against the backend; the
// re-check only shrinks the race window, and a backend-side quota rejection
// surfaces as the same QuotaExceeded kind.
func (e *Engine) submitWave(ctx context.Context, be backend.RecoveryBackend, x *model.Execution, wave *model.WaveExecution) error {
	ids := serverIDs(wave)
	if err := e.admission.Recheck(ctx, be, ids); err != nil {
		return err
	}
	jobID, err := be.SubmitJob(ctx, ids, backend.SubmitOptions{IsDrill: x.IsDrill})
	if err != nil {
		return err
	}
	wave.JobID = jobID
	wave.Status = model.WavePolling
	wave.StartedAt = e.now().UTC()
	logging.Info("submitted wave", "execution", x.ExecutionID, "wave", wave.WaveNumber,
		"job", jobID, "servers", len(ids))
	return nil
}

// failWave marks the wave failed. The execution drops to PARTIAL unless it
// already reached a terminal status: a cancelled execution whose in-flight
// wave fails stays cancelled. Later waves are skipped, not retried.
func (e *Engine) failWave(x *model.Execution, wave *model.WaveExecution) {
	wave.Status = model.WaveFailed
	wave.FinishedAt = e.now().UTC()
	if !x.Status.Terminal() {
		x.Status = model.ExecutionPartial
	}
	logging.Warn("wave failed", "execution", x.ExecutionID, "wave", wave.WaveNumber, "job", wave.JobID)
}

func (e *Engine) resolveWave(ctx context.Context, be backend.RecoveryBackend, wave model.Wave) ([]string, error) {
	var group *model.ProtectionGroup
	if wave.ProtectionGroupID != "" {
		var err error
		group, err = e.records.GetProtectionGroup(ctx, wave.ProtectionGroupID)
		if err != nil {
			return nil, err
		}
	}
	return e.admission.ResolveServers(ctx, be, wave, group)
}

func pollingWave(x *model.Execution) *model.WaveExecution {
	for i := range x.Waves {
		if x.Waves[i].Status == model.WavePolling {
			return &x.Waves[i]
		}
	}
	return nil
}

func serverIDs(wave *model.WaveExecution) []string {
	ids := make([]string, 0, len(wave.Servers))
	for _, s := range wave.Servers {
		ids = append(ids, s.SourceServerID)
	}
	return ids
}

func allLaunched(wave *model.WaveExecution) bool {
	for _, s := range wave.Servers {
		if s.LaunchStatus != backend.LaunchLaunched {
			return false
		}
	}
	return true
}

func applyJobToWave(wave *model.WaveExecution, job *backend.Job, now time.Time) {
	byID := make(map[string]backend.ParticipatingServer, len(job.Servers))
	for _, s := range job.Servers {
		byID[s.SourceServerID] = s
	}
	for i := range wave.Servers {
		reported, ok := byID[wave.Servers[i].SourceServerID]
		if !ok {
			continue
		}
		if reported.LaunchStatus == backend.LaunchLaunched &&
			wave.Servers[i].LaunchStatus != backend.LaunchLaunched {
			wave.Servers[i].LaunchedAt = now
		}
		wave.Servers[i].LaunchStatus = reported.LaunchStatus
		if reported.RecoveryInstanceID != "" {
			wave.Servers[i].RecoveryInstanceID = reported.RecoveryInstanceID
		}
	}
}
