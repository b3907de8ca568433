package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/model"
)

func newTestRecords() (*Records, *Memory) {
	m := NewMemory()
	r := NewRecords(m)
	r.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return r, m
}

func testGroup(id string) *model.ProtectionGroup {
	return &model.ProtectionGroup{
		GroupID:         id,
		Name:            "db tier",
		AccountID:       "111111111111",
		Region:          "us-east-1",
		SourceServerIDs: []string{"s-1", "s-2"},
		LaunchConfig:    model.LaunchConfig{InstanceType: "m5.large"},
	}
}

func TestCreateProtectionGroup(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()

	g := testGroup("pg-1")
	require.NoError(t, r.CreateProtectionGroup(ctx, g))

	assert.Equal(t, int64(1), g.Version)
	assert.Equal(t, model.ConfigPending, g.ConfigStatus["s-1"].State)
	assert.Equal(t, model.ConfigPending, g.ConfigStatus["s-2"].State)

	got, err := r.GetProtectionGroup(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "db tier", got.Name)
	assert.Equal(t, int64(1), got.Version)
}

func TestGetProtectionGroup_NotFound(t *testing.T) {
	r, _ := newTestRecords()
	_, err := r.GetProtectionGroup(context.Background(), "pg-missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestGetProtectionGroup_NormalizesLegacyDoc(t *testing.T) {
	ctx := context.Background()
	r, m := newTestRecords()

	// A record written by an earlier revision, legacy spellings included.
	require.NoError(t, m.Put(ctx, PrefixGroup+"pg-old", "pg-old", map[string]any{
		"pgId":        "pg-old",
		"name":        "legacy",
		"accountId":   "111111111111",
		"region":      "us-east-1",
		"serverIds":   []any{"s-1"},
		"lockVersion": float64(3),
	}))

	g, err := r.GetProtectionGroup(ctx, "pg-old")
	require.NoError(t, err)
	assert.Equal(t, "pg-old", g.GroupID)
	assert.Equal(t, []string{"s-1"}, g.SourceServerIDs)
	assert.Equal(t, int64(3), g.Version)
}

func TestUpdateProtectionGroup_VersionIncrements(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	name := "renamed"
	g, configChanged, err := r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, int64(2), g.Version)
	assert.False(t, configChanged, "a rename alone does not oblige a sync")

	cfg := model.LaunchConfig{InstanceType: "r5.xlarge"}
	g, configChanged, err = r.UpdateProtectionGroup(ctx, "pg-1", 2, GroupPatch{LaunchConfig: &cfg})
	require.NoError(t, err)
	assert.Equal(t, int64(3), g.Version)
	assert.True(t, configChanged)
}

func TestUpdateProtectionGroup_StaleVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	name := "first"
	_, _, err := r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{Name: &name})
	require.NoError(t, err)

	// Second writer still holds version 1.
	name2 := "second"
	_, _, err = r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{Name: &name2})
	var cm *errdefs.ConcurrentModification
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, int64(1), cm.Expected)
	assert.Equal(t, int64(2), cm.Stored)
}

func TestUpdateProtectionGroup_UnchangedConfigNotFlagged(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	// Patch that restates the stored values verbatim.
	same := []string{"s-1", "s-2"}
	cfg := model.LaunchConfig{InstanceType: "m5.large"}
	g, configChanged, err := r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{
		SourceServerIDs: &same,
		LaunchConfig:    &cfg,
	})
	require.NoError(t, err)
	assert.False(t, configChanged)
	assert.Equal(t, int64(2), g.Version, "the version still advances")
}

func TestSaveProtectionGroupStatus_PreservesVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	require.NoError(t, r.SaveProtectionGroupStatus(ctx, "pg-1", map[string]model.ServerConfigStatus{
		"s-1": {State: model.ConfigReady, AppliedHash: "abc"},
	}))

	got, err := r.GetProtectionGroup(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConfigReady, got.ConfigStatus["s-1"].State)

	// A caller holding version 1 can still update: the status write did not
	// consume a version.
	name := "renamed"
	_, _, err = r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{Name: &name})
	assert.NoError(t, err)
}

func TestSaveProtectionGroupStatus_KeepsConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	// A sync computed its status against the version-1 view. Before it writes
	// the status back, a user commits a config change, advancing to version 2.
	cfg := model.LaunchConfig{InstanceType: "c5.xlarge"}
	_, _, err := r.UpdateProtectionGroup(ctx, "pg-1", 1, GroupPatch{LaunchConfig: &cfg})
	require.NoError(t, err)

	require.NoError(t, r.SaveProtectionGroupStatus(ctx, "pg-1", map[string]model.ServerConfigStatus{
		"s-1": {State: model.ConfigReady, AppliedHash: "hash-of-v1-config"},
	}))

	// The status landed without rolling back the committed update.
	got, err := r.GetProtectionGroup(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "c5.xlarge", got.LaunchConfig.InstanceType)
	assert.Equal(t, "hash-of-v1-config", got.ConfigStatus["s-1"].AppliedHash)
}

func TestRecoveryPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()
	require.NoError(t, r.CreateProtectionGroup(ctx, testGroup("pg-1")))

	p := &model.RecoveryPlan{
		PlanID:    "rp-1",
		Name:      "failover",
		AccountID: "111111111111",
		Region:    "us-east-1",
		Waves: []model.Wave{
			{WaveNumber: 1, ProtectionGroupID: "pg-1"},
		},
	}
	require.NoError(t, r.CreateRecoveryPlan(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	waves := []model.Wave{
		{WaveNumber: 1, ProtectionGroupID: "pg-1"},
		{WaveNumber: 2, SourceServerIDs: []string{"s-9"}},
	}
	updated, err := r.UpdateRecoveryPlan(ctx, "rp-1", 1, PlanPatch{Waves: &waves})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Len(t, updated.Waves, 2)

	// An update that breaks validation is rejected before any write.
	bad := []model.Wave{{WaveNumber: 1}}
	_, err = r.UpdateRecoveryPlan(ctx, "rp-1", 2, PlanPatch{Waves: &bad})
	assert.Error(t, err)

	got, err := r.GetRecoveryPlan(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestCreateRecoveryPlan_CrossAccountRejected(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()

	other := testGroup("pg-other")
	other.AccountID = "222222222222"
	require.NoError(t, r.CreateProtectionGroup(ctx, other))

	p := &model.RecoveryPlan{
		PlanID:    "rp-1",
		AccountID: "111111111111",
		Region:    "us-east-1",
		Waves:     []model.Wave{{WaveNumber: 1, ProtectionGroupID: "pg-other"}},
	}
	err := r.CreateRecoveryPlan(ctx, p)
	var v *errdefs.PlanValidation
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Reason, "cross-account")
}

func TestExecutionRecords(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()

	x := &model.Execution{
		ExecutionID: "x-1",
		PlanID:      "rp-1",
		AccountID:   "111111111111",
		Region:      "us-east-1",
		Status:      model.ExecutionInProgress,
		Waves: []model.WaveExecution{
			{WaveNumber: 1, Status: model.WavePolling, JobID: "job-1"},
		},
	}
	require.NoError(t, r.SaveExecution(ctx, x))

	done := &model.Execution{
		ExecutionID: "x-2",
		PlanID:      "rp-1",
		Status:      model.ExecutionCompleted,
	}
	require.NoError(t, r.SaveExecution(ctx, done))

	got, err := r.GetExecution(ctx, "x-1", "rp-1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionInProgress, got.Status)

	_, err = r.GetExecution(ctx, "x-1", "rp-wrong")
	assert.True(t, errdefs.IsNotFound(err))

	active, err := r.ListActiveExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "x-1", active[0].ExecutionID)

	all, err := r.ListExecutions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSyncJobRecords(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()

	running, err := r.GetRunningSyncJob(ctx, "pg-1")
	require.NoError(t, err)
	assert.Nil(t, running)

	j := &model.SyncJob{SyncJobID: "job-1", GroupID: "pg-1", Status: model.SyncRunning, Attempt: 1}
	require.NoError(t, r.PutSyncJob(ctx, j))

	running, err = r.GetRunningSyncJob(ctx, "pg-1")
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, "job-1", running.SyncJobID)

	j.Status = model.SyncSucceeded
	require.NoError(t, r.PutSyncJob(ctx, j))

	running, err = r.GetRunningSyncJob(ctx, "pg-1")
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestAccountRecords(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecords()

	require.NoError(t, r.PutAccount(ctx, &model.AccountContext{AccountID: "111111111111", IsDefault: true}))
	require.NoError(t, r.PutAccount(ctx, &model.AccountContext{AccountID: "222222222222", RoleARN: "arn:aws:iam::222222222222:role/recoverly"}))

	accounts, err := r.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}
