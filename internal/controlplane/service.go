// Package controlplane is the transport-agnostic operation surface. Each
// operation is a typed request handled by its own method, so adding an
// operation is a compile-time-checked addition rather than a string match.
package controlplane

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly-io/recoverly/internal/admission"
	"github.com/recoverly-io/recoverly/internal/capacity"
	"github.com/recoverly-io/recoverly/internal/execution"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
	"github.com/recoverly-io/recoverly/internal/syncer"
)

// Service wires the five engines behind one operation surface. All handles
// are injected at construction; there is no process-global state.
type Service struct {
	records    *store.Records
	executions *execution.Engine
	admissions *admission.Engine
	aggregator *capacity.Aggregator
	syncs      *syncer.Engine
}

// New builds the control-plane service.
func New(records *store.Records, executions *execution.Engine, admissions *admission.Engine, aggregator *capacity.Aggregator, syncs *syncer.Engine) *Service {
	return &Service{
		records:    records,
		executions: executions,
		admissions: admissions,
		aggregator: aggregator,
		syncs:      syncs,
	}
}

// CreateProtectionGroupRequest creates a new protection group.
type CreateProtectionGroupRequest struct {
	Name            string
	AccountID       string
	Region          string
	SourceServerIDs []string
	SelectionTags   map[string]string
	LaunchConfig    model.LaunchConfig
}

func (s *Service) CreateProtectionGroup(ctx context.Context, req CreateProtectionGroupRequest) (*model.ProtectionGroup, error) {
	g := &model.ProtectionGroup{
		GroupID:         uuid.NewString(),
		Name:            req.Name,
		AccountID:       req.AccountID,
		Region:          req.Region,
		SourceServerIDs: req.SourceServerIDs,
		SelectionTags:   req.SelectionTags,
		LaunchConfig:    req.LaunchConfig,
	}
	if err := s.records.CreateProtectionGroup(ctx, g); err != nil {
		return nil, err
	}
	s.triggerSync(ctx, g.GroupID)
	return g, nil
}

// UpdateProtectionGroupRequest applies a sparse patch under the version the
// caller last observed.
type UpdateProtectionGroupRequest struct {
	GroupID string
	Version int64
	Patch   store.GroupPatch
}

func (s *Service) UpdateProtectionGroup(ctx context.Context, req UpdateProtectionGroupRequest) (*model.ProtectionGroup, error) {
	g, configChanged, err := s.records.UpdateProtectionGroup(ctx, req.GroupID, req.Version, req.Patch)
	if err != nil {
		return nil, err
	}
	if configChanged {
		s.triggerSync(ctx, g.GroupID)
	}
	return g, nil
}

// GetProtectionGroupRequest reads one group, marking any drifted servers.
type GetProtectionGroupRequest struct {
	GroupID string
}

func (s *Service) GetProtectionGroup(ctx context.Context, req GetProtectionGroupRequest) (*model.ProtectionGroup, error) {
	g, err := s.records.GetProtectionGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.syncs.DetectDrift(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) ListProtectionGroups(ctx context.Context) ([]*model.ProtectionGroup, error) {
	return s.records.ListProtectionGroups(ctx)
}

// CreateRecoveryPlanRequest creates a new recovery plan.
type CreateRecoveryPlanRequest struct {
	Name      string
	AccountID string
	Region    string
	Waves     []model.Wave
}

func (s *Service) CreateRecoveryPlan(ctx context.Context, req CreateRecoveryPlanRequest) (*model.RecoveryPlan, []admission.Warning, error) {
	p := &model.RecoveryPlan{
		PlanID:    uuid.NewString(),
		Name:      req.Name,
		AccountID: req.AccountID,
		Region:    req.Region,
		Waves:     req.Waves,
	}
	if err := s.records.CreateRecoveryPlan(ctx, p); err != nil {
		return nil, nil, err
	}
	warnings, err := s.admissions.SharedGroupWarnings(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return p, warnings, nil
}

// UpdateRecoveryPlanRequest applies a sparse patch under optimistic
// versioning.
type UpdateRecoveryPlanRequest struct {
	PlanID  string
	Version int64
	Patch   store.PlanPatch
}

func (s *Service) UpdateRecoveryPlan(ctx context.Context, req UpdateRecoveryPlanRequest) (*model.RecoveryPlan, []admission.Warning, error) {
	p, err := s.records.UpdateRecoveryPlan(ctx, req.PlanID, req.Version, req.Patch)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := s.admissions.SharedGroupWarnings(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return p, warnings, nil
}

func (s *Service) ListRecoveryPlans(ctx context.Context) ([]*model.RecoveryPlan, error) {
	return s.records.ListRecoveryPlans(ctx)
}

// StartExecutionRequest starts one run of a plan.
type StartExecutionRequest struct {
	PlanID  string
	IsDrill bool
}

func (s *Service) StartExecution(ctx context.Context, req StartExecutionRequest) (*model.Execution, error) {
	return s.executions.Start(ctx, req.PlanID, req.IsDrill)
}

// ExecutionRequest addresses one execution by its composite key.
type ExecutionRequest struct {
	ExecutionID string
	PlanID      string
}

func (s *Service) PollExecution(ctx context.Context, req ExecutionRequest) (*model.Execution, error) {
	return s.executions.Poll(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) PauseExecution(ctx context.Context, req ExecutionRequest) error {
	return s.executions.Pause(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) ResumeExecution(ctx context.Context, req ExecutionRequest) error {
	return s.executions.Resume(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) CancelExecution(ctx context.Context, req ExecutionRequest) error {
	return s.executions.Cancel(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) TerminateExecutionInstances(ctx context.Context, req ExecutionRequest) (*execution.TerminationResult, error) {
	return s.executions.TerminateInstances(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) GetExecution(ctx context.Context, req ExecutionRequest) (*model.Execution, error) {
	return s.records.GetExecution(ctx, req.ExecutionID, req.PlanID)
}

func (s *Service) ListExecutions(ctx context.Context) ([]*model.Execution, error) {
	return s.records.ListExecutions(ctx)
}

// GetCombinedCapacity aggregates usage across the whole account roster.
func (s *Service) GetCombinedCapacity(ctx context.Context) (*capacity.CombinedCapacity, error) {
	roster, err := s.records.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return s.aggregator.QueryAllAccounts(ctx, roster), nil
}

// SyncLaunchConfigsRequest reconciles one group's launch configuration.
type SyncLaunchConfigsRequest struct {
	GroupID string
	Force   bool
}

func (s *Service) SyncLaunchConfigs(ctx context.Context, req SyncLaunchConfigsRequest) (*syncer.Result, error) {
	return s.syncs.SyncLaunchConfigs(ctx, req.GroupID, req.Force)
}

// RegisterAccountRequest adds or replaces an account context.
type RegisterAccountRequest struct {
	AccountID string
	RoleARN   string
	IsDefault bool
}

func (s *Service) RegisterAccount(ctx context.Context, req RegisterAccountRequest) error {
	return s.records.PutAccount(ctx, &model.AccountContext{
		AccountID: req.AccountID,
		RoleARN:   req.RoleARN,
		IsDefault: req.IsDefault,
	})
}

func (s *Service) ListAccounts(ctx context.Context) ([]*model.AccountContext, error) {
	return s.records.ListAccounts(ctx)
}

// triggerSyncTimeout bounds the reconciliation run inside create and update
// calls. Servers that have not converged by then stay pending and the next
// explicit sync picks them up.
const triggerSyncTimeout = 2 * time.Minute

// triggerSync kicks the reconciler after a membership or config change. A
// sync failure or timeout is isolated: the record update already committed.
func (s *Service) triggerSync(ctx context.Context, groupID string) {
	ctx, cancel := context.WithTimeout(ctx, triggerSyncTimeout)
	defer cancel()
	if _, err := s.syncs.SyncLaunchConfigs(ctx, groupID, false); err != nil {
		logging.Warn("launch config sync failed after update", "group", groupID, "error", err)
	}
}
