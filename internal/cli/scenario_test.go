package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `
name: failing
description: "Wrong expected id"
views: [all]
steps:
  - op: insert
    text: Buy milk
    expect: { id: 7 }
assertions:
  - type: view
    view: all
    texts: [Buy milk]
`

// copyScenario copies a shipped scenario into dir.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	dst := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(dst, data, 0644))
	return dst
}

func TestScenario_ShippedScenariosPass(t *testing.T) {
	out, _, err := execute(t, &RootOptions{}, "scenario", filepath.Join("..", "..", "testdata", "scenarios"))
	require.NoError(t, err)

	assert.Contains(t, out, "✓ buy_milk_walk_dog")
	assert.Contains(t, out, "✓ restart_reseed")
	assert.Contains(t, out, "Scenario Summary: 2 passed, 0 failed, 2 total")
}

func TestScenario_FilterAndJSON(t *testing.T) {
	out, _, err := execute(t, &RootOptions{}, "--format", "json", "scenario",
		filepath.Join("..", "..", "testdata", "scenarios"), "--filter", "restart*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "restart_reseed", resp.Data.Scenarios[0].Name)
}

func TestScenario_UpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	file := copyScenario(t, dir, "buy_milk_walk_dog")

	out, _, err := execute(t, &RootOptions{}, "scenario", file, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "buy_milk_walk_dog.golden"))
	require.NoError(t, err)
	shipped, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "buy_milk_walk_dog.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(shipped), string(written))

	// A second run compares against the file it just wrote.
	_, _, err = execute(t, &RootOptions{}, "scenario", file)
	require.NoError(t, err)
}

func TestScenario_GoldenMismatchFails(t *testing.T) {
	dir := t.TempDir()
	file := copyScenario(t, dir, "restart_reseed")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "restart_reseed.golden"), []byte("{}\n"), 0644))

	out, _, err := execute(t, &RootOptions{}, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ restart_reseed")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenario_FailingExpectation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	out, _, err := execute(t, &RootOptions{}, "--format", "json", "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "expected id 7, got 1")
}

func TestScenario_LoadErrorReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0644))

	out, _, err := execute(t, &RootOptions{}, "scenario", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestScenario_MissingPath(t *testing.T) {
	_, _, err := execute(t, &RootOptions{}, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenario_EmptyDirectory(t *testing.T) {
	out, _, err := execute(t, &RootOptions{}, "scenario", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "cart.golden"),
		goldenFilePath(filepath.Join("scenarios", "cart.yaml")))
}
