package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "synclone", cmd.Use)
	assert.Contains(t, cmd.Long, "staged batches")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "clone", "pull", "staged", "edit", "remove", "sync", "serve"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	for _, name := range []string{"origin", "schema", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestCloneCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	cloneCmd, _, err := cmd.Find([]string{"clone"})
	require.NoError(t, err)

	toFlag := cloneCmd.Flags().Lookup("to")
	require.NotNil(t, toFlag)
	// --to is required, so default is empty
	assert.Equal(t, "", toFlag.DefValue)
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	batchFlag := syncCmd.Flags().Lookup("batch")
	require.NotNil(t, batchFlag)
	assert.Equal(t, "0", batchFlag.DefValue)

	conflictFlag := syncCmd.Flags().Lookup("on-conflict")
	require.NotNil(t, conflictFlag)
	assert.Equal(t, "", conflictFlag.DefValue)

	recloneFlag := syncCmd.Flags().Lookup("reclone")
	require.NotNil(t, recloneFlag)
	assert.Equal(t, "false", recloneFlag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	assert.NotNil(t, serveCmd.Flags().Lookup("listen"))
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "staged"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
