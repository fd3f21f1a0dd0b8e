package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallScenario = `
scenario: smoke
simulation:
  horizon: 60
  window: 20
  rebal_period: 10
  iterations: 2
  assets: 3
  seed: 5
generator:
  type: gaussian
  sigma: [0.01]
  correlation:
    kind: correlated
    range: [0.1, 0.3]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScenariosCommand(t *testing.T) {
	out, err := execute(t, "scenarios")
	require.NoError(t, err)
	for _, name := range []string{"downturn", "lopez", "skewnorm", "student_t"} {
		assert.Contains(t, out, name)
	}
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallScenario), 0644))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "smoke: valid")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(smallScenario, "window: 20", "window: 90", 1)), 0644))
	_, err = execute(t, "validate", "--config", bad)
	assert.Error(t, err)
}

func TestRunCommand_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallScenario), 0644))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "run", "--config", path, "--output", outDir, "--no-plots", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "HRP")
	assert.Contains(t, out, "Artifacts:")

	runs, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	for _, name := range []string{"manifest.json", "summary.json", "trajectories.jsonl"} {
		_, err := os.Stat(filepath.Join(outDir, runs[0].Name(), name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommand_UnknownScenario(t *testing.T) {
	_, err := execute(t, "run", "--scenario", "flash_crash")
	assert.Error(t, err)
}
