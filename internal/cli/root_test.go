package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistration(t *testing.T) {
	expected := []string{"group", "plan", "execution", "capacity", "account", "sync", "version"}

	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "command %s is not registered", name)
	}
}

func TestExecutionSubcommandsRequirePlan(t *testing.T) {
	for _, name := range []string{"poll", "pause", "resume", "cancel", "terminate", "show"} {
		sub, _, err := executionCmd.Find([]string{name})
		require.NoError(t, err)
		flag := sub.Flags().Lookup("plan")
		require.NotNil(t, flag, "%s is missing the --plan flag", name)
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing persistent flag %s", name)
	}
}
