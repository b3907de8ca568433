package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeGroupDoc_LegacyAliases(t *testing.T) {
	doc := map[string]any{
		"pgId":                "pg-1",
		"serverIds":           []any{"s-1", "s-2"},
		"tags":                map[string]any{"env": "prod"},
		"launchConfiguration": map[string]any{"instanceType": "m5.large"},
		"lockVersion":         float64(4),
	}

	out := NormalizeGroupDoc(doc)

	assert.Equal(t, "pg-1", out["groupId"])
	assert.Equal(t, []any{"s-1", "s-2"}, out["sourceServerIds"])
	assert.Equal(t, map[string]any{"env": "prod"}, out["selectionTags"])
	assert.Equal(t, map[string]any{"instanceType": "m5.large"}, out["launchConfig"])
	assert.Equal(t, float64(4), out["version"])

	for _, legacy := range []string{"pgId", "serverIds", "tags", "launchConfiguration", "lockVersion"} {
		assert.NotContains(t, out, legacy)
	}
}

func TestNormalizeGroupDoc_CanonicalWins(t *testing.T) {
	doc := map[string]any{
		"groupId": "pg-new",
		"pgId":    "pg-old",
		"version": float64(7),
	}

	out := NormalizeGroupDoc(doc)

	assert.Equal(t, "pg-new", out["groupId"])
	assert.NotContains(t, out, "pgId")
	assert.Equal(t, float64(7), out["version"])
}

func TestNormalizePlanDoc_WaveAliases(t *testing.T) {
	doc := map[string]any{
		"rpId":        "rp-1",
		"lockVersion": float64(2),
		"waveList": []any{
			map[string]any{"waveNum": float64(1), "pgId": "pg-1"},
			map[string]any{"waveNum": float64(2), "serverIds": []any{"s-9"}},
		},
	}

	out := NormalizePlanDoc(doc)

	assert.Equal(t, "rp-1", out["planId"])
	assert.Equal(t, float64(2), out["version"])

	waves, ok := out["waves"].([]any)
	assert.True(t, ok)
	assert.Len(t, waves, 2)

	w1 := waves[0].(map[string]any)
	assert.Equal(t, float64(1), w1["waveNumber"])
	assert.Equal(t, "pg-1", w1["protectionGroupId"])

	w2 := waves[1].(map[string]any)
	assert.Equal(t, float64(2), w2["waveNumber"])
	assert.Equal(t, []any{"s-9"}, w2["sourceServerIds"])
}

func TestNormalizePlanDoc_AlreadyCanonical(t *testing.T) {
	doc := map[string]any{
		"planId":  "rp-2",
		"version": float64(1),
		"waves": []any{
			map[string]any{"waveNumber": float64(1), "protectionGroupId": "pg-1"},
		},
	}

	out := NormalizePlanDoc(doc)

	assert.Equal(t, "rp-2", out["planId"])
	waves := out["waves"].([]any)
	assert.Equal(t, "pg-1", waves[0].(map[string]any)["protectionGroupId"])
}

func TestNormalizeGroupDoc_Nil(t *testing.T) {
	assert.Nil(t, NormalizeGroupDoc(nil))
}
