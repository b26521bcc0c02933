package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "todosync", cmd.Use)
	assert.Contains(t, cmd.Short, "sync engine")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"add", "list", "toggle", "edit", "rm", "clear-completed",
		"clear-all", "complete-all", "stats", "diff", "scenario",
	}

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

	for _, name := range []string{"backend", "db", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestEditCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	editCmd, _, err := cmd.Find([]string{"edit"})
	require.NoError(t, err)

	assert.NotNil(t, editCmd.Flags().Lookup("text"))
	completed := editCmd.Flags().Lookup("completed")
	require.NotNil(t, completed)
	assert.Equal(t, "false", completed.DefValue)
}

func TestDiffCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	diffCmd, _, err := cmd.Find([]string{"diff"})
	require.NoError(t, err)

	for _, name := range []string{"from-filter", "from-search", "to-filter", "to-search"} {
		assert.NotNil(t, diffCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "all", diffCmd.Flags().Lookup("from-filter").DefValue)
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	updateFlag := scenarioCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	assert.NotNil(t, scenarioCmd.Flags().Lookup("filter"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "stats"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todosync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: badger\npath: ./data\nlog_level: warn\n"), 0644))

	opts := &RootOptions{ConfigPath: path, Backend: "file", Path: "todos.json", Verbose: true}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, config.BackendFile, cfg.Backend)
	assert.Equal(t, "todos.json", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	opts := &RootOptions{Backend: "postgres"}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backend")
}
