package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlsense/internal/cli/commands"
	clitest "github.com/leapstack-labs/sqlsense/internal/cli/testutil"
	"github.com/leapstack-labs/sqlsense/internal/config"
)

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"analyze", "complete", "repl", "catalog", "lsp", "version", "completion"} {
		assert.Contains(t, names, want)
	}

	for flag := range config.FlagKeys {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup(config.VarFlag))
	assert.NotNil(t, cmd.PersistentFlags().ShorthandLookup("o"))
}

func TestRootLoadsConfigFile(t *testing.T) {
	dir := clitest.SetupTestProject(t)
	out, _, err := runRoot(t, "--config", filepath.Join(dir, "sqlsense.yaml"), "-o", "json",
		"analyze", filepath.Join(dir, "query.sql"))
	require.NoError(t, err)

	var report commands.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Statements, 2)
	require.Len(t, report.Statements[1].Problems, 1)
}

func TestRootFlagsOverrideConfig(t *testing.T) {
	dir := clitest.SetupTestProject(t)
	script := clitest.WriteFile(t, dir, "vars.sql", "SELECT ${lim} FROM table1")
	out, _, err := runRoot(t, "--catalog", filepath.Join(dir, "catalog.yaml"), "--var", "lim=10",
		"-o", "json", "analyze", script)
	require.NoError(t, err)

	var report commands.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Statements, 1)
	var resolves []string
	for _, sym := range report.Statements[0].Symbols {
		if sym.Class == "variable" {
			resolves = append(resolves, sym.Resolves)
		}
	}
	assert.Equal(t, []string{"= 10"}, resolves)
}

func TestRootRejectsInvalidSettings(t *testing.T) {
	_, _, err := runRoot(t, "--keyword-case", "title", "version")
	require.ErrorContains(t, err, "keyword_case")

	_, _, err = runRoot(t, "-o", "yaml", "version")
	require.ErrorContains(t, err, "unknown output format")
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"
	NewLogger(cfg, &buf).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestCompletionCommand(t *testing.T) {
	out, _, err := runRoot(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlsense")
}
