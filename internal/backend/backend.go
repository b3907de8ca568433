// Package backend abstracts the recovery backend: the external service that
// replicates disks and boots recovery instances. The control plane only
// sequences and gates calls to it; the backend enforces its hard quotas
// independently of our admission checks.
package backend

import (
	"context"

	"github.com/recoverly-io/recoverly/internal/model"
)

// JobStatus is the backend-reported state of a recovery job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobStarted   JobStatus = "STARTED"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Per-server launch statuses reported inside a job.
const (
	LaunchPending    = "PENDING"
	LaunchInProgress = "IN_PROGRESS"
	LaunchLaunched   = "LAUNCHED"
	LaunchFailed     = "FAILED"
	LaunchTerminated = "TERMINATED"
)

// ParticipatingServer is one server's launch record within a job.
type ParticipatingServer struct {
	SourceServerID     string
	LaunchStatus       string
	RecoveryInstanceID string
}

// Job is the backend's view of one recovery job.
type Job struct {
	JobID   string
	Status  JobStatus
	Servers []ParticipatingServer
}

// Active reports whether the job still holds its servers.
func (j *Job) Active() bool {
	return j.Status == JobPending || j.Status == JobStarted
}

// SourceServer is a server under replication, as inventoried by the backend.
type SourceServer struct {
	SourceServerID string
	Hostname       string
	Tags           map[string]string
	Replicating    bool
}

// ReplicationSummary is the per-account-per-region capacity snapshot.
// Uninitialized means the backend service is not enabled in the region; an
// uninitialized region contributes zero to every total.
type ReplicationSummary struct {
	Replicating       int
	RecoveryInstances int
	Uninitialized     bool
}

// SubmitOptions carries job submission modifiers.
type SubmitOptions struct {
	// IsDrill launches from snapshots without affecting ongoing replication.
	IsDrill bool
}

// RecoveryBackend is the full surface the control plane drives. All calls
// may fail transiently (retried with backoff) or permanently (surfaced).
type RecoveryBackend interface {
	// SubmitJob starts recovery of the given servers and returns the job id.
	SubmitJob(ctx context.Context, serverIDs []string, opts SubmitOptions) (string, error)

	// DescribeJob returns the current status of one job.
	DescribeJob(ctx context.Context, jobID string) (*Job, error)

	// ListActiveJobs returns every job that has not completed.
	ListActiveJobs(ctx context.Context) ([]*Job, error)

	// ListSourceServers returns the backend's source-server inventory,
	// used for tag-based membership expansion and replication counts.
	ListSourceServers(ctx context.Context) ([]SourceServer, error)

	// DescribeReplication returns the region's capacity snapshot.
	DescribeReplication(ctx context.Context) (*ReplicationSummary, error)

	// ApplyLaunchConfig pushes the desired launch configuration to one server.
	ApplyLaunchConfig(ctx context.Context, serverID string, cfg model.LaunchConfig) error

	// TerminateInstance terminates one recovery instance.
	TerminateInstance(ctx context.Context, recoveryInstanceID string) error
}

// Factory builds a backend client scoped to one account and region,
// assuming the cross-account role when the account is not the default.
type Factory interface {
	Backend(ctx context.Context, accountID, region string) (RecoveryBackend, error)
}
