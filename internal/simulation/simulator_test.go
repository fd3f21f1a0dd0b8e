package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/generator"
	"github.com/kushal-sa/HRP/internal/metrics"
	"github.com/kushal-sa/HRP/internal/panel"
)

func gaussian(assets int) generator.Generator {
	return generator.NewGaussian(generator.Moments{
		Sigma: generator.Constant(assets, 0.01),
		Mean:  generator.Constant(assets, 0.0005),
	}, generator.Correlated(0.1, 0.5))
}

func coreAllocators(t *testing.T) []allocator.Allocator {
	t.Helper()
	hrp, err := allocator.NewHRP(allocator.LinkageSingle)
	require.NoError(t, err)
	cla, err := allocator.NewCLA(allocator.DefaultCLAConfig())
	require.NoError(t, err)
	return []allocator.Allocator{hrp, allocator.NewIVP(), cla}
}

func testConfig() Config {
	return Config{Horizon: 100, Window: 20, RebalPeriod: 10, Iterations: 3, Assets: 4, Seed: 42, Workers: 1}
}

// stubAllocator returns fixed weights or fails on chosen calls
type stubAllocator struct {
	name    string
	weights []float64
	err     error
	failAt  int // 1-based call that fails; 0 fails every call when err is set
	calls   int
}

func (s *stubAllocator) Name() string { return s.name }

func (s *stubAllocator) Allocate(_ *covariance.Estimate) ([]float64, error) {
	s.calls++
	if s.err != nil && (s.failAt == 0 || s.failAt == s.calls) {
		return nil, s.err
	}
	return s.weights, nil
}

type fixedGenerator struct{ p *panel.Panel }

func (f fixedGenerator) Name() string { return "fixed" }

func (f fixedGenerator) Generate(_ rand.Source, _, _ int) (*panel.Panel, error) {
	return f.p, nil
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Generate(_ rand.Source, _, _ int) (*panel.Panel, error) {
	return nil, generator.ErrInvalidParameters
}

func TestRebalancePoints(t *testing.T) {
	cfg := testConfig()
	points := cfg.RebalancePoints()
	assert.Len(t, points, 9)
	assert.Equal(t, 20, points[0])
	assert.Equal(t, 100, points[8])
}

func TestSimulateAll_TrajectoryLength(t *testing.T) {
	result, err := SimulateAll(context.Background(), gaussian(4), coreAllocators(t), testConfig())
	require.NoError(t, err)
	require.Len(t, result.Series, 3)

	for _, series := range result.Series {
		require.Len(t, series.Trajectories, 3, series.Allocator)
		for i, traj := range series.Trajectories {
			assert.Equal(t, i, traj.Iteration)
			assert.Empty(t, traj.Skips, series.Allocator)
			assert.False(t, traj.Halted)
			require.Len(t, traj.Rebalances, 9, series.Allocator)
			assert.Equal(t, []int{20, 30, 40, 50, 60, 70, 80, 90, 100}, traj.Steps())
			assert.Len(t, traj.Returns, 80, "returns accrue over steps 20..99")

			for _, rb := range traj.Rebalances {
				assert.NoError(t, allocator.Validate(rb.Weights, 1e-8))
				for _, w := range rb.Weights {
					assert.GreaterOrEqual(t, w, -1e-12)
					assert.LessOrEqual(t, w, 1+1e-12)
				}
			}
		}
	}
}

func TestSimulateAll_DeterministicAcrossWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 6

	a, err := SimulateAll(context.Background(), gaussian(4), coreAllocators(t), cfg)
	require.NoError(t, err)
	b, err := SimulateAll(context.Background(), gaussian(4), coreAllocators(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Series, b.Series, "same seed must give bit-identical output")

	cfg.Workers = 4
	c, err := SimulateAll(context.Background(), gaussian(4), coreAllocators(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Series, c.Series, "worker count must not change the result")

	cfg.Seed = 43
	d, err := SimulateAll(context.Background(), gaussian(4), coreAllocators(t), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Series, d.Series)
}

func TestSimulateAll_IsolatesFailingAllocator(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 1
	broken := &stubAllocator{name: "broken", err: allocator.ErrZeroVariance}
	allocators := append(coreAllocators(t), broken)

	result, err := SimulateAll(context.Background(), gaussian(4), allocators, cfg)
	require.NoError(t, err)

	series, ok := result.Lookup("broken")
	require.True(t, ok)
	traj := series.Trajectories[0]
	assert.Empty(t, traj.Rebalances)
	assert.Empty(t, traj.Returns)
	require.Len(t, traj.Skips, 9)
	assert.Equal(t, "zero_variance", traj.Skips[0].Reason)

	hrp, ok := result.Lookup("HRP")
	require.True(t, ok)
	assert.Len(t, hrp.Trajectories[0].Rebalances, 9)
}

func TestSimulateAll_DegenerateSystemHaltsTrajectory(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 1
	equal := []float64{0.25, 0.25, 0.25, 0.25}
	halting := &stubAllocator{name: "halting", weights: equal, err: allocator.ErrDegenerateSystem, failAt: 2}
	steady := &stubAllocator{name: "steady", weights: equal}

	result, err := SimulateAll(context.Background(), gaussian(4), []allocator.Allocator{halting, steady}, cfg)
	require.NoError(t, err)

	traj := result.Series[0].Trajectories[0]
	assert.True(t, traj.Halted)
	assert.Equal(t, 30, traj.HaltStep)
	assert.Len(t, traj.Rebalances, 1)
	assert.Len(t, traj.Returns, 10, "returns stop at the halt")
	assert.Equal(t, 2, halting.calls, "a halted allocator is not called again")

	other := result.Series[1].Trajectories[0]
	assert.False(t, other.Halted)
	assert.Len(t, other.Rebalances, 9)
}

func TestSimulateAll_ShortWindowIsSingular(t *testing.T) {
	cfg := Config{Horizon: 30, Window: 4, RebalPeriod: 5, Iterations: 2, Assets: 6, Seed: 1, Workers: 2}

	result, err := SimulateAll(context.Background(), gaussian(6), coreAllocators(t), cfg)
	require.NoError(t, err)

	for _, series := range result.Series {
		for _, traj := range series.Trajectories {
			assert.Empty(t, traj.Rebalances)
			assert.Empty(t, traj.Returns)
			require.Len(t, traj.Skips, len(cfg.RebalancePoints()))
			assert.Equal(t, "singular_covariance", traj.Skips[0].Reason)
		}
	}
}

func TestSimulateAll_ConstantAssetReportsZeroVariance(t *testing.T) {
	rows := make([][]float64, 30)
	for i := range rows {
		rows[i] = []float64{0.001 * float64(i%5-2), 0}
	}
	p, err := panel.FromRows(rows)
	require.NoError(t, err)
	cfg := Config{Horizon: 30, Window: 10, RebalPeriod: 10, Iterations: 1, Assets: 2, Workers: 1}

	result, err := SimulateAll(context.Background(), fixedGenerator{p}, []allocator.Allocator{allocator.NewIVP()}, cfg)
	require.NoError(t, err)

	traj := result.Series[0].Trajectories[0]
	assert.Empty(t, traj.Rebalances)
	require.Len(t, traj.Skips, 3)
	for _, skip := range traj.Skips {
		assert.Equal(t, "zero_variance", skip.Reason)
	}
}

func TestSimulateAll_RealizedReturnsUseHeldWeights(t *testing.T) {
	p, err := gaussian(2).Generate(rand.NewPCG(5, 5), 50, 2)
	require.NoError(t, err)
	weights := []float64{0.3, 0.7}
	stub := &stubAllocator{name: "fixed", weights: weights}
	cfg := Config{Horizon: 50, Window: 10, RebalPeriod: 15, Iterations: 1, Assets: 2, Workers: 1}

	result, err := SimulateAll(context.Background(), fixedGenerator{p}, []allocator.Allocator{stub}, cfg)
	require.NoError(t, err)

	traj := result.Series[0].Trajectories[0]
	assert.Equal(t, []int{10, 25, 40}, traj.Steps())
	require.Len(t, traj.Returns, 40)
	for k, r := range traj.Returns {
		row := p.Row(10 + k)
		assert.Equal(t, 10+k, r.Step)
		assert.InDelta(t, 0.3*row[0]+0.7*row[1], r.Value, 1e-15)
	}

	weights[0] = 99
	assert.Equal(t, 0.3, traj.Rebalances[0].Weights[0], "recorded weights must not alias allocator output")
}

func TestSimulateAll_SkipKeepsPreviousWeights(t *testing.T) {
	cfg := Config{Horizon: 50, Window: 10, RebalPeriod: 10, Iterations: 1, Assets: 2, Workers: 1}
	stub := &stubAllocator{name: "flaky", weights: []float64{0.5, 0.5}, err: allocator.ErrZeroVariance, failAt: 2}

	result, err := SimulateAll(context.Background(), gaussian(2), []allocator.Allocator{stub}, cfg)
	require.NoError(t, err)

	traj := result.Series[0].Trajectories[0]
	assert.Equal(t, []int{10, 30, 40, 50}, traj.Steps())
	require.Len(t, traj.Skips, 1)
	assert.Equal(t, 20, traj.Skips[0].Step)
	assert.Len(t, traj.Returns, 40, "held weights keep accruing through a skipped point")
}

func TestSimulateAll_InvalidWeightsAreSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 1
	stub := &stubAllocator{name: "leveraged", weights: []float64{0.5, 0.5, 0.5, 0.5}}

	result, err := SimulateAll(context.Background(), gaussian(4), []allocator.Allocator{stub}, cfg)
	require.NoError(t, err)

	traj := result.Series[0].Trajectories[0]
	assert.Empty(t, traj.Rebalances)
	require.Len(t, traj.Skips, 9)
	assert.Equal(t, "invalid_weights", traj.Skips[0].Reason)
}

func TestSimulateAll_GeneratorFailureAbortsRun(t *testing.T) {
	_, err := SimulateAll(context.Background(), failingGenerator{}, coreAllocators(t), testConfig())
	assert.ErrorIs(t, err, generator.ErrInvalidParameters)
}

func TestSimulateAll_RejectsWrongShape(t *testing.T) {
	p, err := gaussian(3).Generate(rand.NewPCG(1, 1), 100, 3)
	require.NoError(t, err)

	_, err = SimulateAll(context.Background(), fixedGenerator{p}, coreAllocators(t), testConfig())
	assert.ErrorIs(t, err, panel.ErrShape)
}

func TestSimulateAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SimulateAll(ctx, gaussian(4), coreAllocators(t), testConfig())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewSimulator_Validation(t *testing.T) {
	cfg := testConfig()

	_, err := NewSimulator(cfg, gaussian(4), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ivp := allocator.NewIVP()
	_, err = NewSimulator(cfg, gaussian(4), []allocator.Allocator{ivp, ivp})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Window = 200
	_, err = NewSimulator(cfg, gaussian(4), []allocator.Allocator{ivp})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSimulator_RecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := testConfig()
	broken := &stubAllocator{name: "broken", err: allocator.ErrDegenerateSystem}

	s, err := NewSimulator(cfg, gaussian(4), []allocator.Allocator{allocator.NewIVP(), broken},
		WithMetrics(reg), WithEstimator(covariance.NewEstimator(covariance.DefaultConfig())))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(reg.IterationsTotal))
	assert.Equal(t, 27.0, testutil.ToFloat64(reg.Rebalances.WithLabelValues("IVP")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.AllocatorHalts.WithLabelValues("broken")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "singular_covariance", Reason(covariance.ErrSingularCovariance))
	assert.Equal(t, "zero_variance", Reason(fmt.Errorf("%w: %w", covariance.ErrSingularCovariance, covariance.ErrZeroVariance)))
	assert.Equal(t, "degenerate_system", Reason(allocator.ErrDegenerateSystem))
	assert.Equal(t, "other", Reason(errors.New("boom")))
}
