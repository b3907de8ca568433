package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly-io/recoverly/internal/errdefs"
)

func validPlan() *RecoveryPlan {
	return &RecoveryPlan{
		PlanID:    "rp-1",
		AccountID: "111111111111",
		Region:    "us-east-1",
		Waves: []Wave{
			{WaveNumber: 1, ProtectionGroupID: "pg-1"},
			{WaveNumber: 2, SourceServerIDs: []string{"s-1", "s-2"}},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	accounts := map[string]string{"pg-1": "111111111111"}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidatePlan(validPlan(), accounts))
	})

	t.Run("no waves", func(t *testing.T) {
		p := validPlan()
		p.Waves = nil
		err := ValidatePlan(p, accounts)
		var v *errdefs.PlanValidation
		require.ErrorAs(t, err, &v)
		assert.Contains(t, v.Reason, "no waves")
	})

	t.Run("duplicate wave number", func(t *testing.T) {
		p := validPlan()
		p.Waves[1].WaveNumber = 1
		err := ValidatePlan(p, accounts)
		var v *errdefs.PlanValidation
		require.ErrorAs(t, err, &v)
		assert.Contains(t, v.Reason, "duplicate wave number 1")
	})

	t.Run("wave with both group and servers", func(t *testing.T) {
		p := validPlan()
		p.Waves[0].SourceServerIDs = []string{"s-3"}
		err := ValidatePlan(p, accounts)
		assert.Error(t, err)
	})

	t.Run("wave with neither group nor servers", func(t *testing.T) {
		p := validPlan()
		p.Waves[0].ProtectionGroupID = ""
		err := ValidatePlan(p, accounts)
		assert.Error(t, err)
	})

	t.Run("unknown group", func(t *testing.T) {
		p := validPlan()
		p.Waves[0].ProtectionGroupID = "pg-missing"
		err := ValidatePlan(p, accounts)
		var v *errdefs.PlanValidation
		require.ErrorAs(t, err, &v)
		assert.Contains(t, v.Reason, "unknown protection group")
	})

	t.Run("cross-account group", func(t *testing.T) {
		p := validPlan()
		err := ValidatePlan(p, map[string]string{"pg-1": "222222222222"})
		var v *errdefs.PlanValidation
		require.ErrorAs(t, err, &v)
		assert.Contains(t, v.Reason, "cross-account")
	})

	t.Run("explicit servers over the plan ceiling", func(t *testing.T) {
		p := validPlan()
		ids := make([]string, MaxServersPerPlan+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("s-%d", i)
		}
		p.Waves[1].SourceServerIDs = ids
		err := ValidatePlan(p, accounts)
		var v *errdefs.PlanValidation
		require.ErrorAs(t, err, &v)
		assert.Contains(t, v.Reason, "ceiling")
	})
}

func TestValidateGroup(t *testing.T) {
	g := &ProtectionGroup{
		GroupID:         "pg-1",
		AccountID:       "111111111111",
		Region:          "us-east-1",
		SourceServerIDs: []string{"s-1"},
	}
	assert.NoError(t, ValidateGroup(g))

	g.SourceServerIDs = nil
	g.SelectionTags = map[string]string{"env": "prod"}
	assert.NoError(t, ValidateGroup(g))

	g.SelectionTags = nil
	assert.Error(t, ValidateGroup(g))

	g.SelectionTags = map[string]string{"env": "prod"}
	g.Region = ""
	assert.Error(t, ValidateGroup(g))
}

func TestSortedWaves(t *testing.T) {
	p := &RecoveryPlan{
		Waves: []Wave{
			{WaveNumber: 3, SourceServerIDs: []string{"c"}},
			{WaveNumber: 1, SourceServerIDs: []string{"a"}},
			{WaveNumber: 2, SourceServerIDs: []string{"b"}},
		},
	}
	sorted := p.SortedWaves()
	assert.Equal(t, []int{1, 2, 3}, []int{sorted[0].WaveNumber, sorted[1].WaveNumber, sorted[2].WaveNumber})
	// Original order untouched.
	assert.Equal(t, 3, p.Waves[0].WaveNumber)
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionInProgress.Terminal())
	assert.False(t, ExecutionPaused.Terminal())
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionPartial.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
}

func TestCurrentWave(t *testing.T) {
	x := &Execution{
		Waves: []WaveExecution{
			{WaveNumber: 1, Status: WaveCompleted},
			{WaveNumber: 2, Status: WavePending},
			{WaveNumber: 3, Status: WavePending},
		},
	}
	cur := x.CurrentWave()
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.WaveNumber)

	x.Waves[1].Status = WaveCompleted
	x.Waves[2].Status = WaveFailed
	assert.Nil(t, x.CurrentWave())
}
