package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "recoverly", cfg.Table)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)

	// A missing file also falls back to defaults.
	cfg, err = Load("/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "recoverly", cfg.Table)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
region: eu-west-1
table: recoverly-prod
regions:
  - eu-west-1
  - eu-central-1
accounts:
  - accountId: "111111111111"
    isDefault: true
  - accountId: "222222222222"
    roleArn: arn:aws:iam::222222222222:role/recoverly
logLevel: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "recoverly-prod", cfg.Table)
	assert.Equal(t, []string{"eu-west-1", "eu-central-1"}, cfg.Regions)
	assert.Equal(t, "debug", cfg.LogLevel)

	require.Len(t, cfg.Accounts, 2)
	assert.True(t, cfg.Accounts[0].IsDefault)
	assert.Equal(t, "arn:aws:iam::222222222222:role/recoverly", cfg.Accounts[1].RoleARN)

	contexts := cfg.AccountContexts()
	require.Len(t, contexts, 2)
	assert.Equal(t, "111111111111", contexts[0].AccountID)
	assert.True(t, contexts[0].IsDefault)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("table: custom\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Table)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty-table.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("table: \"\"\n"), 0o644))
	_, err := Load(empty)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("table: [unclosed\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
