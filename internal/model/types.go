// Package model holds the canonical record types persisted by the control
// plane. Records read from storage pass through Normalize* exactly once; the
// rest of the system only ever sees these shapes.
package model

import "time"

// ExecutionStatus is the overall state of one run of a recovery plan.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionPaused     ExecutionStatus = "PAUSED"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionPartial    ExecutionStatus = "PARTIAL"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionPartial, ExecutionCancelled:
		return true
	}
	return false
}

// WaveStatus is the state of a single wave within an execution.
type WaveStatus string

const (
	WavePending   WaveStatus = "PENDING"
	WavePolling   WaveStatus = "POLLING"
	WavePaused    WaveStatus = "PAUSED"
	WaveCompleted WaveStatus = "COMPLETED"
	WaveFailed    WaveStatus = "FAILED"
)

// Active reports whether the wave still has backend work outstanding.
func (s WaveStatus) Active() bool {
	return s == WavePolling
}

// Terminal reports whether the wave reached a final state.
func (s WaveStatus) Terminal() bool {
	return s == WaveCompleted || s == WaveFailed
}

// ConfigState tracks per-server launch configuration convergence.
type ConfigState string

const (
	ConfigPending  ConfigState = "pending"
	ConfigApplying ConfigState = "applying"
	ConfigReady    ConfigState = "ready"
	ConfigFailed   ConfigState = "failed"
	ConfigDrifted  ConfigState = "drifted"
)

// SyncJobStatus is the state of one launch-config reconciliation attempt.
type SyncJobStatus string

const (
	SyncRunning    SyncJobStatus = "running"
	SyncSucceeded  SyncJobStatus = "succeeded"
	SyncFailed     SyncJobStatus = "failed"
	SyncSuperseded SyncJobStatus = "superseded"
)

// LaunchConfig is the desired launch configuration shared by every server in
// a protection group.
type LaunchConfig struct {
	InstanceType     string   `json:"instanceType,omitempty"`
	SubnetID         string   `json:"subnetId,omitempty"`
	SecurityGroupIDs []string `json:"securityGroupIds,omitempty"`
	IAMProfile       string   `json:"iamProfile,omitempty"`
	StaticIP         string   `json:"staticIp,omitempty"`
	CopyPrivateIP    bool     `json:"copyPrivateIp,omitempty"`
}

// ServerConfigStatus is the per-server launch configuration status.
type ServerConfigStatus struct {
	State       ConfigState `json:"state"`
	AppliedHash string      `json:"appliedHash,omitempty"`
	AppliedAt   time.Time   `json:"appliedAt,omitzero"`
	Error       string      `json:"error,omitempty"`
}

// ProtectionGroup is a named, versioned set of servers sharing one launch
// configuration. Membership is either an explicit server list, a tag
// selector expanded at resolution time, or both.
type ProtectionGroup struct {
	GroupID         string                        `json:"groupId"`
	Version         int64                         `json:"version"`
	Name            string                        `json:"name"`
	AccountID       string                        `json:"accountId"`
	Region          string                        `json:"region"`
	SourceServerIDs []string                      `json:"sourceServerIds,omitempty"`
	SelectionTags   map[string]string             `json:"selectionTags,omitempty"`
	LaunchConfig    LaunchConfig                  `json:"launchConfig"`
	ConfigStatus    map[string]ServerConfigStatus `json:"launchConfigStatus,omitempty"`
	CreatedAt       time.Time                     `json:"createdAt"`
	UpdatedAt       time.Time                     `json:"updatedAt"`
}

// Wave is one step of a recovery plan. It references either a protection
// group or an explicit server list, never both.
type Wave struct {
	WaveNumber        int      `json:"waveNumber" yaml:"waveNumber"`
	Name              string   `json:"name" yaml:"name"`
	ProtectionGroupID string   `json:"protectionGroupId,omitempty" yaml:"protectionGroupId"`
	SourceServerIDs   []string `json:"sourceServerIds,omitempty" yaml:"sourceServerIds"`
}

// RecoveryPlan is an ordered list of waves, all in one account.
type RecoveryPlan struct {
	PlanID    string    `json:"planId"`
	Version   int64     `json:"version"`
	Name      string    `json:"name"`
	AccountID string    `json:"accountId"`
	Region    string    `json:"region"`
	Waves     []Wave    `json:"waves"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ServerExecution is the per-server runtime record inside a wave.
type ServerExecution struct {
	SourceServerID     string    `json:"sourceServerId"`
	LaunchStatus       string    `json:"launchStatus,omitempty"`
	RecoveryInstanceID string    `json:"recoveryInstanceId,omitempty"`
	LaunchedAt         time.Time `json:"launchedAt,omitzero"`
}

// WaveExecution is the runtime record of one wave of an execution.
type WaveExecution struct {
	WaveNumber int               `json:"waveNumber"`
	Name       string            `json:"name"`
	Status     WaveStatus        `json:"status"`
	JobID      string            `json:"jobId,omitempty"`
	Servers    []ServerExecution `json:"serverExecutions"`
	StartedAt  time.Time         `json:"startedAt,omitzero"`
	FinishedAt time.Time         `json:"finishedAt,omitzero"`
}

// Execution is one run of a recovery plan. Keyed by (ExecutionID, PlanID).
// Executions are retained as history and never deleted automatically.
type Execution struct {
	ExecutionID         string          `json:"executionId"`
	PlanID              string          `json:"planId"`
	AccountID           string          `json:"accountId"`
	Region              string          `json:"region"`
	Status              ExecutionStatus `json:"status"`
	IsDrill             bool            `json:"isDrill"`
	Waves               []WaveExecution `json:"waveExecutions"`
	InstancesTerminated bool            `json:"instancesTerminated"`
	StartedAt           time.Time       `json:"startedAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// CurrentWave returns the first wave that is not terminal, or nil when every
// wave has finished.
func (x *Execution) CurrentWave() *WaveExecution {
	for i := range x.Waves {
		if !x.Waves[i].Status.Terminal() {
			return &x.Waves[i]
		}
	}
	return nil
}

// AccountContext is a target or staging account reachable by role assumption.
type AccountContext struct {
	AccountID string `json:"accountId"`
	RoleARN   string `json:"roleArn"`
	IsDefault bool   `json:"isDefault"`
}

// SyncJob is one reconciliation attempt of a protection group's launch
// configuration. At most one job per group is running at a time.
type SyncJob struct {
	SyncJobID  string        `json:"syncJobId"`
	GroupID    string        `json:"groupId"`
	Status     SyncJobStatus `json:"status"`
	Attempt    int           `json:"attempt"`
	ConfigHash string        `json:"configHash"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt,omitzero"`
}
