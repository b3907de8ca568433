package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
)

// Records is the versioned record layer over the document store. Protection
// groups and recovery plans are guarded by optimistic versioning; executions
// and the remaining record kinds are single-writer and stored plainly.
type Records struct {
	store Store
	now   func() time.Time
}

// NewRecords wraps a Store.
func NewRecords(s Store) *Records {
	return &Records{store: s, now: time.Now}
}

// GroupPatch is a sparse update to a protection group. Nil fields are left
// unchanged; set fields replace the stored value wholesale.
type GroupPatch struct {
	Name            *string
	SourceServerIDs *[]string
	SelectionTags   *map[string]string
	LaunchConfig    *model.LaunchConfig
}

// PlanPatch is a sparse update to a recovery plan.
type PlanPatch struct {
	Name  *string
	Waves *[]model.Wave
}

// CreateProtectionGroup stores a new group at version 1 with every explicit
// member marked pending.
func (r *Records) CreateProtectionGroup(ctx context.Context, g *model.ProtectionGroup) error {
	if err := model.ValidateGroup(g); err != nil {
		return err
	}
	g.Version = 1
	g.CreatedAt = r.now().UTC()
	g.UpdatedAt = g.CreatedAt
	if g.ConfigStatus == nil {
		g.ConfigStatus = make(map[string]model.ServerConfigStatus, len(g.SourceServerIDs))
	}
	for _, id := range g.SourceServerIDs {
		if _, ok := g.ConfigStatus[id]; !ok {
			g.ConfigStatus[id] = model.ServerConfigStatus{State: model.ConfigPending}
		}
	}

	doc, err := EncodeDoc(g)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, PrefixGroup+g.GroupID, g.GroupID, doc); err != nil {
		return err
	}
	logging.Info("created protection group", "group", g.GroupID, "account", g.AccountID, "region", g.Region)
	return nil
}

// GetProtectionGroup reads and normalizes one group.
func (r *Records) GetProtectionGroup(ctx context.Context, id string) (*model.ProtectionGroup, error) {
	doc, err := r.store.Get(ctx, PrefixGroup+id, id)
	if errors.Is(err, ErrItemNotFound) {
		return nil, &errdefs.NotFound{Kind: "protection group", ID: id}
	}
	if err != nil {
		return nil, err
	}
	var g model.ProtectionGroup
	if err := DecodeDoc(model.NormalizeGroupDoc(doc), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListProtectionGroups returns every group.
func (r *Records) ListProtectionGroups(ctx context.Context) ([]*model.ProtectionGroup, error) {
	var groups []*model.ProtectionGroup
	page := Page{}
	for {
		docs, next, err := r.store.Query(ctx, PrefixGroup, page)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			var g model.ProtectionGroup
			if err := DecodeDoc(model.NormalizeGroupDoc(doc), &g); err != nil {
				return nil, err
			}
			groups = append(groups, &g)
		}
		if next == "" {
			return groups, nil
		}
		page.Token = next
	}
}

// UpdateProtectionGroup applies a sparse patch under optimistic versioning.
// It returns the updated group and whether the patch changed membership or
// launch configuration, which obliges the caller to trigger a config sync.
func (r *Records) UpdateProtectionGroup(ctx context.Context, id string, expectedVersion int64, patch GroupPatch) (*model.ProtectionGroup, bool, error) {
	g, err := r.GetProtectionGroup(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if g.Version != expectedVersion {
		return nil, false, &errdefs.ConcurrentModification{
			Kind: "protection group", ID: id, Expected: expectedVersion, Stored: g.Version,
		}
	}

	configChanged := false
	if patch.Name != nil {
		g.Name = *patch.Name
	}
	if patch.SourceServerIDs != nil && !reflect.DeepEqual(g.SourceServerIDs, *patch.SourceServerIDs) {
		g.SourceServerIDs = *patch.SourceServerIDs
		configChanged = true
	}
	if patch.SelectionTags != nil && !reflect.DeepEqual(g.SelectionTags, *patch.SelectionTags) {
		g.SelectionTags = *patch.SelectionTags
		configChanged = true
	}
	if patch.LaunchConfig != nil && !reflect.DeepEqual(g.LaunchConfig, *patch.LaunchConfig) {
		g.LaunchConfig = *patch.LaunchConfig
		configChanged = true
	}

	g.Version = expectedVersion + 1
	g.UpdatedAt = r.now().UTC()

	doc, err := EncodeDoc(g)
	if err != nil {
		return nil, false, err
	}
	err = r.store.ConditionalUpdate(ctx, PrefixGroup+id, id, expectedVersion, doc)
	if errors.Is(err, ErrVersionMismatch) {
		// Lost the race between our read and write. Re-read for the message.
		stored := expectedVersion
		if cur, readErr := r.GetProtectionGroup(ctx, id); readErr == nil {
			stored = cur.Version
		}
		return nil, false, &errdefs.ConcurrentModification{
			Kind: "protection group", ID: id, Expected: expectedVersion, Stored: stored,
		}
	}
	if errors.Is(err, ErrItemNotFound) {
		return nil, false, &errdefs.NotFound{Kind: "protection group", ID: id}
	}
	if err != nil {
		return nil, false, err
	}
	return g, configChanged, nil
}

// statusWriteRetries bounds the merge loop in SaveProtectionGroupStatus.
const statusWriteRetries = 3

// SaveProtectionGroupStatus persists a group's launchConfigStatus without
// consuming a version. The status is merged into the current stored document
// under its version condition, so a group update committed while a sync was
// running is never overwritten; losing the race re-reads and merges again.
func (r *Records) SaveProtectionGroupStatus(ctx context.Context, groupID string, status map[string]model.ServerConfigStatus) error {
	statusDoc, err := EncodeDoc(struct {
		Status map[string]model.ServerConfigStatus `json:"launchConfigStatus"`
	}{status})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < statusWriteRetries; attempt++ {
		doc, err := r.store.Get(ctx, PrefixGroup+groupID, groupID)
		if errors.Is(err, ErrItemNotFound) {
			return &errdefs.NotFound{Kind: "protection group", ID: groupID}
		}
		if err != nil {
			return err
		}
		doc = model.NormalizeGroupDoc(doc)
		doc["launchConfigStatus"] = statusDoc["launchConfigStatus"]
		err = r.store.ConditionalUpdate(ctx, PrefixGroup+groupID, groupID, docVersion(doc), doc)
		if !errors.Is(err, ErrVersionMismatch) {
			return err
		}
	}
	return fmt.Errorf("group %s: status write lost the version race %d times", groupID, statusWriteRetries)
}

// CreateRecoveryPlan validates and stores a new plan at version 1.
func (r *Records) CreateRecoveryPlan(ctx context.Context, p *model.RecoveryPlan) error {
	accounts, err := r.groupAccounts(ctx)
	if err != nil {
		return err
	}
	if err := model.ValidatePlan(p, accounts); err != nil {
		return err
	}
	p.Version = 1
	p.CreatedAt = r.now().UTC()
	p.UpdatedAt = p.CreatedAt

	doc, err := EncodeDoc(p)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, PrefixPlan+p.PlanID, p.PlanID, doc); err != nil {
		return err
	}
	logging.Info("created recovery plan", "plan", p.PlanID, "waves", len(p.Waves))
	return nil
}

// GetRecoveryPlan reads and normalizes one plan.
func (r *Records) GetRecoveryPlan(ctx context.Context, id string) (*model.RecoveryPlan, error) {
	doc, err := r.store.Get(ctx, PrefixPlan+id, id)
	if errors.Is(err, ErrItemNotFound) {
		return nil, &errdefs.NotFound{Kind: "recovery plan", ID: id}
	}
	if err != nil {
		return nil, err
	}
	var p model.RecoveryPlan
	if err := DecodeDoc(model.NormalizePlanDoc(doc), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRecoveryPlans returns every plan.
func (r *Records) ListRecoveryPlans(ctx context.Context) ([]*model.RecoveryPlan, error) {
	var plans []*model.RecoveryPlan
	page := Page{}
	for {
		docs, next, err := r.store.Query(ctx, PrefixPlan, page)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			var p model.RecoveryPlan
			if err := DecodeDoc(model.NormalizePlanDoc(doc), &p); err != nil {
				return nil, err
			}
			plans = append(plans, &p)
		}
		if next == "" {
			return plans, nil
		}
		page.Token = next
	}
}

// UpdateRecoveryPlan applies a sparse patch under optimistic versioning and
// re-validates the resulting plan.
func (r *Records) UpdateRecoveryPlan(ctx context.Context, id string, expectedVersion int64, patch PlanPatch) (*model.RecoveryPlan, error) {
	p, err := r.GetRecoveryPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Version != expectedVersion {
		return nil, &errdefs.ConcurrentModification{
			Kind: "recovery plan", ID: id, Expected: expectedVersion, Stored: p.Version,
		}
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Waves != nil {
		p.Waves = *patch.Waves
	}

	accounts, err := r.groupAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if err := model.ValidatePlan(p, accounts); err != nil {
		return nil, err
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = r.now().UTC()

	doc, err := EncodeDoc(p)
	if err != nil {
		return nil, err
	}
	err = r.store.ConditionalUpdate(ctx, PrefixPlan+id, id, expectedVersion, doc)
	if errors.Is(err, ErrVersionMismatch) {
		stored := expectedVersion
		if cur, readErr := r.GetRecoveryPlan(ctx, id); readErr == nil {
			stored = cur.Version
		}
		return nil, &errdefs.ConcurrentModification{
			Kind: "recovery plan", ID: id, Expected: expectedVersion, Stored: stored,
		}
	}
	if errors.Is(err, ErrItemNotFound) {
		return nil, &errdefs.NotFound{Kind: "recovery plan", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Records) groupAccounts(ctx context.Context) (map[string]string, error) {
	groups, err := r.ListProtectionGroups(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make(map[string]string, len(groups))
	for _, g := range groups {
		accounts[g.GroupID] = g.AccountID
	}
	return accounts, nil
}

// SaveExecution writes an execution record. Executions are mutated only by
// the wave execution engine, so no version condition is needed.
func (r *Records) SaveExecution(ctx context.Context, x *model.Execution) error {
	x.UpdatedAt = r.now().UTC()
	doc, err := EncodeDoc(x)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, PrefixExec+x.ExecutionID, x.PlanID, doc)
}

// GetExecution reads one execution by its composite key.
func (r *Records) GetExecution(ctx context.Context, executionID, planID string) (*model.Execution, error) {
	doc, err := r.store.Get(ctx, PrefixExec+executionID, planID)
	if errors.Is(err, ErrItemNotFound) {
		return nil, &errdefs.NotFound{Kind: "execution", ID: fmt.Sprintf("%s/%s", executionID, planID)}
	}
	if err != nil {
		return nil, err
	}
	var x model.Execution
	if err := DecodeDoc(doc, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// ListExecutions returns every execution, most recent first not guaranteed.
func (r *Records) ListExecutions(ctx context.Context) ([]*model.Execution, error) {
	var execs []*model.Execution
	page := Page{}
	for {
		docs, next, err := r.store.Query(ctx, PrefixExec, page)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			var x model.Execution
			if err := DecodeDoc(doc, &x); err != nil {
				return nil, err
			}
			execs = append(execs, &x)
		}
		if next == "" {
			return execs, nil
		}
		page.Token = next
	}
}

// ListActiveExecutions returns executions that have not reached a terminal
// status. The admission engine's busy-server set is built from these.
func (r *Records) ListActiveExecutions(ctx context.Context) ([]*model.Execution, error) {
	all, err := r.ListExecutions(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, x := range all {
		if !x.Status.Terminal() {
			active = append(active, x)
		}
	}
	return active, nil
}

// PutAccount stores or replaces an account context.
func (r *Records) PutAccount(ctx context.Context, a *model.AccountContext) error {
	doc, err := EncodeDoc(a)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, PrefixAccount+a.AccountID, a.AccountID, doc)
}

// ListAccounts returns every configured account context.
func (r *Records) ListAccounts(ctx context.Context) ([]*model.AccountContext, error) {
	docs, _, err := r.store.Query(ctx, PrefixAccount, Page{})
	if err != nil {
		return nil, err
	}
	accounts := make([]*model.AccountContext, 0, len(docs))
	for _, doc := range docs {
		var a model.AccountContext
		if err := DecodeDoc(doc, &a); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

// GetRunningSyncJob returns the in-flight sync job for a group, if any.
func (r *Records) GetRunningSyncJob(ctx context.Context, groupID string) (*model.SyncJob, error) {
	docs, _, err := r.store.Query(ctx, PrefixSync+groupID, Page{})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		var j model.SyncJob
		if err := DecodeDoc(doc, &j); err != nil {
			return nil, err
		}
		if j.Status == model.SyncRunning {
			return &j, nil
		}
	}
	return nil, nil
}

// PutSyncJob stores a sync job record.
func (r *Records) PutSyncJob(ctx context.Context, j *model.SyncJob) error {
	doc, err := EncodeDoc(j)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, PrefixSync+j.GroupID, j.SyncJobID, doc)
}
