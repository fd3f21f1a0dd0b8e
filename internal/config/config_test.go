package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/covariance"
)

const scenarioYAML = `
scenario: custom
simulation:
  horizon: 120
  window: 60
  rebal_period: 20
  iterations: 5
  assets: 4
  seed: 9
estimator:
  method: ewma
  decay: 0.1
allocators:
  - type: HRP
    linkage: ward
  - type: cla
    upper: 0.5
    point: max_sharpe
generator:
  type: dynamic
  segments:
    - length: 60
      generator:
        type: gaussian
        sigma: [0.01]
    - length: 60
      generator:
        type: student_t
        sigma: [0.02]
        df: [4]
        correlation:
          kind: groups
          groups: [2, 2]
          group_ranges: [[0.8, 1.0], [0.2, 0.4]]
output:
  dir: out/custom
  plots: false
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_ParsesAndFillsDefaults(t *testing.T) {
	cfg, err := Load(writeScenario(t, scenarioYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "custom", cfg.Scenario)
	assert.Equal(t, 120, cfg.Simulation.Horizon)
	assert.Equal(t, uint64(9), cfg.Simulation.Seed)
	assert.Equal(t, 1, cfg.Simulation.Workers, "workers default to one")

	assert.Equal(t, covariance.MethodEWMA, cfg.Estimator.Method)
	assert.Equal(t, 1e12, cfg.Estimator.MaxCondition)

	require.Len(t, cfg.Allocators, 2)
	assert.Equal(t, AllocatorHRP, cfg.Allocators[0].Type, "types are case-insensitive")
	assert.Equal(t, "ward", cfg.Allocators[0].Linkage)
	assert.Equal(t, 0.5, cfg.Allocators[1].Upper)
	assert.Equal(t, allocator.PointMaxSharpe, cfg.Allocators[1].Point)

	require.Len(t, cfg.Generator.Segments, 2)
	assert.Equal(t, []int{2, 2}, cfg.Generator.Segments[1].Generator.Correlation.Groups)
	assert.False(t, cfg.Output.PlotsEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HRPSIM_ITERATIONS", "42")
	t.Setenv("HRPSIM_SEED", "7")
	t.Setenv("HRPSIM_WORKERS", "3")
	t.Setenv("HRPSIM_OUTPUT_DIR", "/tmp/elsewhere")
	t.Setenv("HRPSIM_LINKAGE", "average")

	cfg, err := Load(writeScenario(t, scenarioYAML))
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Simulation.Iterations)
	assert.Equal(t, uint64(7), cfg.Simulation.Seed)
	assert.Equal(t, 3, cfg.Simulation.Workers)
	assert.Equal(t, "/tmp/elsewhere", cfg.Output.Dir)
	assert.Equal(t, "average", cfg.Allocators[0].Linkage)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeScenario(t, "simulation: [unterminated"))
	assert.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	Prepare(cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 22*14, cfg.Simulation.Horizon)
	assert.Equal(t, 260, cfg.Simulation.Window)
	assert.Equal(t, 22, cfg.Simulation.RebalPeriod)
	assert.Equal(t, 100, cfg.Simulation.Iterations)
	assert.True(t, cfg.Output.PlotsEnabled())
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"short horizon":   func(c *Config) { c.Simulation.Horizon = c.Simulation.Window - 1 },
		"tiny window":     func(c *Config) { c.Simulation.Window = 1 },
		"no rebalance":    func(c *Config) { c.Simulation.RebalPeriod = 0 },
		"no iterations":   func(c *Config) { c.Simulation.Iterations = 0 },
		"bad linkage":     func(c *Config) { SetLinkage(c, "centroid") },
		"bad allocator":   func(c *Config) { c.Allocators = append(c.Allocators, AllocatorSpec{Type: "mvo"}) },
		"duplicate":       func(c *Config) { c.Allocators = append(c.Allocators, AllocatorSpec{Type: AllocatorIVP}) },
		"bad generator":   func(c *Config) { c.Generator.Type = "garch" },
		"sigma length":    func(c *Config) { c.Generator.Sigma = []float64{0.1, 0.2} },
		"bad estimator":   func(c *Config) { c.Estimator.Method = "shrinkage" },
		"empty dynamic":   func(c *Config) { c.Generator = GeneratorSpec{Type: GeneratorDynamic} },
		"lopez sizes":     func(c *Config) { c.Generator = GeneratorSpec{Type: GeneratorLopez, Size0: 1, Size1: 1, Sigma0: 1, Sigma1F: 1} },
		"no bootstrap":    func(c *Config) { c.Generator = GeneratorSpec{Type: GeneratorBootstrap} },
		"bad correlation": func(c *Config) { c.Generator.Correlation.Range = [2]float64{0.9, 0.1} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			Prepare(cfg)
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	Prepare(cfg)
	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(cfg, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Simulation, back.Simulation)
	assert.Equal(t, cfg.Allocators, back.Allocators)
}

func TestOverrides_OnlyChangedFlags(t *testing.T) {
	var o Overrides
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	o.Register(fs)
	require.NoError(t, fs.Parse([]string{"--iterations", "12", "--linkage", "complete", "--no-plots"}))

	cfg := Default()
	Prepare(cfg)
	o.Apply(cfg, fs)

	assert.Equal(t, 12, cfg.Simulation.Iterations)
	assert.Equal(t, "complete", cfg.Allocators[0].Linkage)
	assert.Equal(t, 1, cfg.Simulation.Workers, "unset flags keep config values")
	assert.Equal(t, "./artifacts/hrpsim", cfg.Output.Dir)
	assert.False(t, cfg.Output.PlotsEnabled())
}
