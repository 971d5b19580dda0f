package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/harness"
)

const passingScenario = `
name: passing
description: "A premium create is confirmed"
actor: premium:user-1
flow:
  - action: create
    args: {name: Jazz night, lat: 59.4372, lng: 24.7453}
    expect: {case: confirmed}
assertions:
  - type: remote_calls
    method: create
    count: 1
`

const failingScenario = `
name: failing
description: "An anonymous create expected to succeed"
flow:
  - action: create
    args: {name: Jazz night, lat: 59.4372, lng: 24.7453}
    expect: {case: confirmed}
assertions:
  - type: cache_count
    count: 1
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestHelpText(t *testing.T) {
	out, err := runTestCommand(t, "text", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "in-memory remote")
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "push_ordering.yaml", passingScenario)
	writeScenario(t, dir, "push_replay.yml", passingScenario)
	writeScenario(t, dir, "venue_repair.yaml", passingScenario)
	writeScenario(t, dir, "README.md", "# scenarios")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	writeScenario(t, filepath.Join(dir, "golden"), "stray.yaml", passingScenario)

	t.Run("all", func(t *testing.T) {
		files, err := findScenarioFiles(dir, "")
		require.NoError(t, err)
		assert.Len(t, files, 3)
	})

	t.Run("filtered", func(t *testing.T) {
		files, err := findScenarioFiles(dir, "push_*")
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := findScenarioFiles(dir, "[")
		assert.Error(t, err)
	})
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "push_ordering.golden"),
		goldenFilePath(filepath.Join("scenarios", "push_ordering.yaml")))
}

func TestTestCommandPassingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "passing.yaml", passingScenario)

	out, err := runTestCommand(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ passing")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "passing.yaml", passingScenario)
	writeScenario(t, dir, "failing.yaml", failingScenario)

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, ErrCodeTestFailed, response.Error.Code)
	assert.Equal(t, 1, response.Data.Passed)
	assert.Equal(t, 1, response.Data.Failed)

	for _, s := range response.Data.Scenarios {
		if s.Name == "failing" {
			require.NotEmpty(t, s.Errors)
			assert.Contains(t, s.Errors[0], `expected case "confirmed", got "denied"`)
		}
	}
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "passing.yaml", passingScenario)

	out, err := runTestCommand(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	golden, err := os.ReadFile(goldenFilePath(path))
	require.NoError(t, err)
	var snap harness.TraceSnapshot
	require.NoError(t, json.Unmarshal(golden, &snap))
	assert.Equal(t, "passing", snap.ScenarioName)
	assert.Len(t, snap.Trace, 2)

	_, err = runTestCommand(t, "text", dir)
	require.NoError(t, err, "a fresh run matches the golden file it wrote")

	require.NoError(t, os.WriteFile(goldenFilePath(path), []byte("{}\n"), 0644))
	out, err = runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}
