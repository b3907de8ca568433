// Package syncer is the launch-config reconciler: it pushes a protection
// group's desired launch configuration to every member server and tracks
// per-server convergence. Per-server failures are isolated; a sync that
// times out leaves the group pending, never failed.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
	"github.com/recoverly-io/recoverly/internal/store"
)

const (
	defaultParallelism = 8
	defaultTimeout     = 10 * time.Minute
)

// Result is the partial-success outcome of one sync run.
type Result struct {
	SyncJobID   string                              `json:"syncJobId,omitempty"`
	GroupStatus model.ConfigState                   `json:"groupStatus"`
	ReadyCount  int                                 `json:"readyCount"`
	TotalCount  int                                 `json:"totalCount"`
	Servers     map[string]model.ServerConfigStatus `json:"servers"`
	Skipped     bool                                `json:"skipped,omitempty"`
	TimedOut    bool                                `json:"timedOut,omitempty"`
}

// Engine reconciles launch configurations.
type Engine struct {
	records     *store.Records
	backends    backend.Factory
	policy      *backend.RetryPolicy
	parallelism int
	timeout     time.Duration
	now         func() time.Time
	newID       func() string
}

// NewEngine builds a sync engine with the shared retry policy.
func NewEngine(records *store.Records, backends backend.Factory, policy *backend.RetryPolicy) *Engine {
	return &Engine{
		records:     records,
		backends:    backends,
		policy:      policy,
		parallelism: defaultParallelism,
		timeout:     defaultTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SyncLaunchConfigs applies the group's launch configuration to every member
// server. A sync already running for the group is superseded, never run
// alongside. Unless force is set, a group whose every server already carries
// the current config hash is skipped.
func (e *Engine) SyncLaunchConfigs(ctx context.Context, groupID string, force bool) (*Result, error) {
	group, err := e.records.GetProtectionGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	be, err := e.backends.Backend(ctx, group.AccountID, group.Region)
	if err != nil {
		return nil, err
	}
	members, err := e.resolveMembers(ctx, be, group)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		// Tag-only group matching nothing: there is nothing to converge,
		// and an empty membership must not read as ready.
		return &Result{
			GroupStatus: model.ConfigPending,
			Servers:     map[string]model.ServerConfigStatus{},
		}, nil
	}

	hash := CalculateConfigHash(group.LaunchConfig)

	attempt := 1
	if running, err := e.records.GetRunningSyncJob(ctx, groupID); err != nil {
		return nil, err
	} else if running != nil {
		running.Status = model.SyncSuperseded
		running.FinishedAt = e.now().UTC()
		if err := e.records.PutSyncJob(ctx, running); err != nil {
			return nil, err
		}
		attempt = running.Attempt + 1
		logging.Info("superseded running sync", "group", groupID, "job", running.SyncJobID)
	}

	if !force && converged(group, members, hash) {
		return &Result{
			GroupStatus: model.ConfigReady,
			ReadyCount:  len(members),
			TotalCount:  len(members),
			Servers:     group.ConfigStatus,
			Skipped:     true,
		}, nil
	}

	job := &model.SyncJob{
		SyncJobID:  e.newID(),
		GroupID:    groupID,
		Status:     model.SyncRunning,
		Attempt:    attempt,
		ConfigHash: hash,
		StartedAt:  e.now().UTC(),
	}
	if err := e.records.PutSyncJob(ctx, job); err != nil {
		return nil, err
	}

	result := e.applyAll(ctx, be, group, members, hash)
	result.SyncJobID = job.SyncJobID

	switch result.GroupStatus {
	case model.ConfigReady:
		job.Status = model.SyncSucceeded
	default:
		job.Status = model.SyncFailed
	}
	job.FinishedAt = e.now().UTC()
	if err := e.records.PutSyncJob(ctx, job); err != nil {
		return nil, err
	}

	if err := e.records.SaveProtectionGroupStatus(ctx, group.GroupID, result.Servers); err != nil {
		return nil, err
	}
	logging.Info("sync finished", "group", groupID, "job", job.SyncJobID,
		"status", result.GroupStatus, "ready", result.ReadyCount, "total", result.TotalCount)
	return result, nil
}

// applyAll fans the per-server config pushes through a bounded worker pool.
// Each server gets its own retry budget; one server's exhaustion never
// aborts the others. The convergence wait is bounded: on timeout, servers
// that never settled stay pending and ready servers are never downgraded.
func (e *Engine) applyAll(ctx context.Context, be backend.RecoveryBackend, group *model.ProtectionGroup, members []string, hash string) *Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var mu sync.Mutex
	statuses := make(map[string]model.ServerConfigStatus, len(members))
	for _, id := range members {
		if prev, ok := group.ConfigStatus[id]; ok {
			statuses[id] = prev
		} else {
			statuses[id] = model.ServerConfigStatus{State: model.ConfigPending}
		}
	}

	ready := 0
	transition := func(id string, s model.ServerConfigStatus) {
		mu.Lock()
		statuses[id] = s
		ready = 0
		for _, cur := range statuses {
			if cur.State == model.ConfigReady && cur.AppliedHash == hash {
				ready++
			}
		}
		mu.Unlock()
		logging.Debug("sync progress", "group", group.GroupID, "server", id,
			"state", s.State, "ready", ready, "total", len(members))
	}

	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for _, id := range members {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			transition(id, model.ServerConfigStatus{State: model.ConfigApplying})

			err := backend.Call(ctx, e.policy, "ApplyLaunchConfig", func() error {
				return be.ApplyLaunchConfig(ctx, id, group.LaunchConfig)
			})
			if err != nil {
				if ctx.Err() != nil {
					// Timed out, not failed: leave the server pending.
					transition(id, model.ServerConfigStatus{State: model.ConfigPending, Error: err.Error()})
					return
				}
				transition(id, model.ServerConfigStatus{State: model.ConfigFailed, Error: err.Error()})
				return
			}
			transition(id, model.ServerConfigStatus{
				State:       model.ConfigReady,
				AppliedHash: hash,
				AppliedAt:   e.now().UTC(),
			})
		}(id)
	}
	wg.Wait()

	result := &Result{
		Servers:    statuses,
		ReadyCount: ready,
		TotalCount: len(members),
		TimedOut:   ctx.Err() != nil,
	}
	result.GroupStatus = groupStatus(statuses, result.TimedOut)
	return result
}

// DetectDrift marks ready servers whose applied hash no longer matches the
// group's desired hash. Drift is only ever corrected by a subsequent sync,
// never silently rewritten here.
func (e *Engine) DetectDrift(ctx context.Context, group *model.ProtectionGroup) (bool, error) {
	hash := CalculateConfigHash(group.LaunchConfig)
	changed := false
	for id, status := range group.ConfigStatus {
		if status.State == model.ConfigReady && status.AppliedHash != hash {
			status.State = model.ConfigDrifted
			group.ConfigStatus[id] = status
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if err := e.records.SaveProtectionGroupStatus(ctx, group.GroupID, group.ConfigStatus); err != nil {
		return false, err
	}
	logging.Warn("launch config drift detected", "group", group.GroupID)
	return true, nil
}

func (e *Engine) resolveMembers(ctx context.Context, be backend.RecoveryBackend, group *model.ProtectionGroup) ([]string, error) {
	seen := make(map[string]bool)
	var members []string
	for _, id := range group.SourceServerIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	if len(group.SelectionTags) > 0 {
		inventory, err := be.ListSourceServers(ctx)
		if err != nil {
			return nil, err
		}
		for _, server := range inventory {
			if seen[server.SourceServerID] {
				continue
			}
			if matchesTags(server.Tags, group.SelectionTags) {
				seen[server.SourceServerID] = true
				members = append(members, server.SourceServerID)
			}
		}
	}
	return members, nil
}

// converged reports whether every member already carries the desired hash.
func converged(group *model.ProtectionGroup, members []string, hash string) bool {
	for _, id := range members {
		status, ok := group.ConfigStatus[id]
		if !ok || status.State != model.ConfigReady || status.AppliedHash != hash {
			return false
		}
	}
	return len(members) > 0
}

// groupStatus aggregates: ready only when every server is ready; failed when
// any server exhausted its retries; pending when the run timed out first.
func groupStatus(statuses map[string]model.ServerConfigStatus, timedOut bool) model.ConfigState {
	if len(statuses) == 0 {
		return model.ConfigPending
	}
	allReady := true
	anyFailed := false
	for _, s := range statuses {
		if s.State != model.ConfigReady {
			allReady = false
		}
		if s.State == model.ConfigFailed {
			anyFailed = true
		}
	}
	switch {
	case allReady:
		return model.ConfigReady
	case anyFailed && !timedOut:
		return model.ConfigFailed
	case timedOut:
		return model.ConfigPending
	case anyFailed:
		return model.ConfigFailed
	default:
		return model.ConfigPending
	}
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
