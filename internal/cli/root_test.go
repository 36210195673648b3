package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args in a clean working directory
// and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "strata", cmd.Use)
	assert.Contains(t, cmd.Long, "Scratch → Main → Root → Store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"put", "get", "list", "count", "delete", "nuke", "log", "schema", "shell", "test"}

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
	pf := cmd.PersistentFlags()

	verboseFlag := pf.Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := pf.Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "memory", "driver", "schema", "policy"} {
		assert.NotNil(t, pf.Lookup(name), "flag --%s", name)
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	deleteCmd, _, err := cmd.Find([]string{"delete"})
	require.NoError(t, err)
	assert.NotNil(t, deleteCmd.Flags().Lookup("all"))

	logCmd, _, err := cmd.Find([]string{"log"})
	require.NoError(t, err)
	limitFlag := logCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "0", limitFlag.DefValue)

	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)
	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "count", "User")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile("strata.toml", []byte(`
[store]
kind = "memory"

[pipeline]
scratch_policy = "shared"
`), 0o644))

	opts := &RootOptions{Database: "flag.db", Policy: "per-write", Verbose: true}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Store.Kind)
	assert.Equal(t, "flag.db", cfg.Store.Path)
	assert.Equal(t, "per-write", cfg.Pipeline.ScratchPolicy)
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts = &RootOptions{}
	cfg, err = opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "shared", cfg.Pipeline.ScratchPolicy)
}

func TestLoadConfig_InvalidPolicy(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := execute(t, "--memory", "--policy", "pooled", "count", "User")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestOpenService_BadStore(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "missing", "dir", "x.db"), "count", "User")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open store")
}

func TestOpenService_AsyncOpenFailure(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STRATA_ASYNC_OPEN", "true")
	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "missing", "dir", "x.db"), "count", "User")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
