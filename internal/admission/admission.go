// Package admission gates every job submission on server exclusivity and
// backend quotas before any irreversible call is made. The check is
// advisory: the backend remains the final authority, so callers repeat a
// narrow re-check immediately before submitting.
package admission

import (
	"context"
	"fmt"
	"sort"

	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/capacity"
	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
)

// Hard backend ceilings. The backend enforces these independently; checking
// them here keeps obvious rejections from ever reaching it.
const (
	MaxServersPerJob   = 100
	MaxConcurrentJobs  = 20
	MaxServersInFlight = 500
)

// Warning is a non-fatal advisory returned alongside a successful admission.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Admission is the successful result of a check: the resolved server set
// plus any capacity advisories.
type Admission struct {
	ServerIDs []string  `json:"serverIds"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// Engine answers admission checks from two sources: the execution records in
// the store and the backend's own active-job list.
type Engine struct {
	records  *store.Records
	backends backend.Factory
}

// NewEngine builds an admission engine.
func NewEngine(records *store.Records, backends backend.Factory) *Engine {
	return &Engine{records: records, backends: backends}
}

// ResolveServers expands a wave into its concrete server set: the explicit
// list, or the referenced group's explicit members plus its tag selection
// expanded against the backend inventory.
func (e *Engine) ResolveServers(ctx context.Context, be backend.RecoveryBackend, wave model.Wave, group *model.ProtectionGroup) ([]string, error) {
	if len(wave.SourceServerIDs) > 0 {
		return dedupe(wave.SourceServerIDs), nil
	}
	if group == nil {
		return nil, fmt.Errorf("wave %d references no servers and no group", wave.WaveNumber)
	}

	ids := append([]string(nil), group.SourceServerIDs...)
	if len(group.SelectionTags) > 0 {
		inventory, err := be.ListSourceServers(ctx)
		if err != nil {
			return nil, err
		}
		for _, server := range inventory {
			if matchesTags(server.Tags, group.SelectionTags) {
				ids = append(ids, server.SourceServerID)
			}
		}
	}
	return dedupe(ids), nil
}

// CheckAdmission verifies the requested set against server exclusivity and
// every hard ceiling, and computes capacity advisories. The requested set
// must already be resolved. excludeExecution names the caller's own execution
// record, whose committed servers must not block it; empty means none.
func (e *Engine) CheckAdmission(ctx context.Context, accountID, region string, serverIDs []string, excludeExecution string) (*Admission, error) {
	be, err := e.backends.Backend(ctx, accountID, region)
	if err != nil {
		return nil, err
	}

	busy, err := e.busyServers(ctx, accountID, region, be, excludeExecution)
	if err != nil {
		return nil, err
	}
	for _, id := range serverIDs {
		if holder, held := busy[id]; held {
			return nil, &errdefs.ServerConflict{ServerID: id, HeldBy: holder}
		}
	}

	activeJobs, err := be.ListActiveJobs(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkCeilings(serverIDs, activeJobs); err != nil {
		return nil, err
	}

	admission := &Admission{ServerIDs: serverIDs}
	if summary, err := be.DescribeReplication(ctx); err == nil && !summary.Uninitialized {
		status := capacity.ReplicationStatus(summary.Replicating, capacity.ReplicationCeiling)
		if status != capacity.StatusOK && status != capacity.StatusInfo {
			admission.Warnings = append(admission.Warnings, Warning{
				Kind: "replication-capacity",
				Message: fmt.Sprintf("replicating servers at %d of %d in %s/%s (%s)",
					summary.Replicating, capacity.ReplicationCeiling, accountID, region, status),
			})
		}
	}
	return admission, nil
}

// Recheck is the narrow pre-submission pass: exclusivity against the
// backend's live job list and the hard ceilings only. It shrinks the window
// between check and submit; it cannot eliminate it.
func (e *Engine) Recheck(ctx context.Context, be backend.RecoveryBackend, serverIDs []string) error {
	activeJobs, err := be.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range activeJobs {
		for _, s := range job.Servers {
			for _, id := range serverIDs {
				if s.SourceServerID == id {
					return &errdefs.ServerConflict{ServerID: id, HeldBy: "job " + job.JobID}
				}
			}
		}
	}
	return checkCeilings(serverIDs, activeJobs)
}

// busyServers merges the two sources of committed servers: non-terminal
// execution waves in the store, and the backend's active jobs. Both are
// read-only snapshots, so the result is advisory.
func (e *Engine) busyServers(ctx context.Context, accountID, region string, be backend.RecoveryBackend, excludeExecution string) (map[string]string, error) {
	busy := make(map[string]string)

	executions, err := e.records.ListActiveExecutions(ctx)
	if err != nil {
		return nil, err
	}
	for _, x := range executions {
		if x.AccountID != accountID || x.Region != region {
			continue
		}
		if excludeExecution != "" && x.ExecutionID == excludeExecution {
			continue
		}
		for _, wave := range x.Waves {
			if wave.Status.Terminal() {
				continue
			}
			for _, s := range wave.Servers {
				busy[s.SourceServerID] = "execution " + x.ExecutionID
			}
		}
	}

	jobs, err := be.ListActiveJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		for _, s := range job.Servers {
			if _, ok := busy[s.SourceServerID]; !ok {
				busy[s.SourceServerID] = "job " + job.JobID
			}
		}
	}
	return busy, nil
}

func checkCeilings(serverIDs []string, activeJobs []*backend.Job) error {
	if len(serverIDs) > MaxServersPerJob {
		return &errdefs.QuotaExceeded{
			Limit:    "servers per job",
			Max:      MaxServersPerJob,
			Observed: len(serverIDs),
		}
	}
	if len(activeJobs) >= MaxConcurrentJobs {
		return &errdefs.QuotaExceeded{
			Limit:    "concurrent jobs",
			Max:      MaxConcurrentJobs,
			Observed: len(activeJobs),
		}
	}
	inFlight := 0
	for _, job := range activeJobs {
		inFlight += len(job.Servers)
	}
	if inFlight+len(serverIDs) > MaxServersInFlight {
		return &errdefs.QuotaExceeded{
			Limit:    "servers in flight",
			Max:      MaxServersInFlight,
			Observed: inFlight + len(serverIDs),
		}
	}
	return nil
}

// SharedGroupWarnings reports protection groups referenced by more than one
// recovery plan. A shared group is a proactive signal, not a blocking error:
// two plans that both reference it cannot run concurrently.
func (e *Engine) SharedGroupWarnings(ctx context.Context, plan *model.RecoveryPlan) ([]Warning, error) {
	plans, err := e.records.ListRecoveryPlans(ctx)
	if err != nil {
		return nil, err
	}

	mine := make(map[string]bool)
	for _, w := range plan.Waves {
		if w.ProtectionGroupID != "" {
			mine[w.ProtectionGroupID] = true
		}
	}

	sharers := make(map[string][]string)
	seen := make(map[string]bool)
	for _, other := range plans {
		if other.PlanID == plan.PlanID {
			continue
		}
		for _, w := range other.Waves {
			if !mine[w.ProtectionGroupID] {
				continue
			}
			pair := w.ProtectionGroupID + "\x00" + other.PlanID
			if !seen[pair] {
				seen[pair] = true
				sharers[w.ProtectionGroupID] = append(sharers[w.ProtectionGroupID], other.PlanID)
			}
		}
	}

	groupIDs := make([]string, 0, len(sharers))
	for id := range sharers {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	var warnings []Warning
	for _, id := range groupIDs {
		warnings = append(warnings, Warning{
			Kind:    "shared-group",
			Message: fmt.Sprintf("protection group %s is also referenced by plan(s) %v", id, sharers[id]),
		})
	}
	return warnings, nil
}

func matchesTags(serverTags, selector map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if serverTags[k] != v {
			return false
		}
	}
	return true
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
