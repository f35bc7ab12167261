package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

func TestScenarioRunsDirectory(t *testing.T) {
	h := newCLIHarness(t)

	var report ScenarioReport
	h.runJSON(&report, "scenario", scenarioDir)

	assert.Positive(t, report.Total)
	assert.Equal(t, report.Total, report.Passed)
	assert.Zero(t, report.Failed)
}

func TestScenarioFilter(t *testing.T) {
	h := newCLIHarness(t)

	var report ScenarioReport
	h.runJSON(&report, "scenario", scenarioDir, "--filter", "online_*")

	require.Len(t, report.Scenarios, 1)
	got := report.Scenarios[0]
	assert.Equal(t, "online_mutations", got.Name)
	assert.True(t, got.Pass, got.Errors)
	assert.Equal(t, []string{"create Player", "update Player r-1", "delete Player r-1"}, got.Calls)
}

func TestScenarioFailureExitsOne(t *testing.T) {
	h := newCLIHarness(t)
	path := filepath.Join(t.TempDir(), "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: wrong
description: "expects a call that never happens"
steps:
  - do: create_player
    args: { name: Ada }
assertions:
  - type: remote_calls
    calls: ["create Player"]
`), 0644))

	out, err := h.run("scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "Assertion failed: remote_calls")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestScenarioLoadErrorIsAFailure(t *testing.T) {
	h := newCLIHarness(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0644))

	out, err := h.run("scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestScenarioMissingPath(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
