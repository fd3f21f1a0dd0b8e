package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/generator"
	"github.com/kushal-sa/HRP/internal/metrics"
	"github.com/kushal-sa/HRP/internal/panel"
)

// weightTolerance bounds how far a recorded weight vector may drift from summing to one
const weightTolerance = 1e-8

// Simulator runs the rolling-window Monte Carlo loop
type Simulator struct {
	config     Config
	generator  generator.Generator
	allocators []allocator.Allocator
	estimator  *covariance.Estimator
	metrics    *metrics.Registry
	progress   ProgressReporter
}

// ProgressReporter is told about every completed iteration
type ProgressReporter interface {
	Increment()
}

// Option customises a Simulator
type Option func(*Simulator)

// WithEstimator replaces the default sample covariance estimator
func WithEstimator(e *covariance.Estimator) Option {
	return func(s *Simulator) { s.estimator = e }
}

// WithMetrics records run counters on r
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Simulator) { s.metrics = r }
}

// WithProgress reports each completed iteration to p
func WithProgress(p ProgressReporter) Option {
	return func(s *Simulator) { s.progress = p }
}

// NewSimulator creates a simulator for one generator and a set of allocators
func NewSimulator(config Config, gen generator.Generator, allocators []allocator.Allocator, opts ...Option) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: no generator", ErrInvalidConfig)
	}
	if len(allocators) == 0 {
		return nil, fmt.Errorf("%w: no allocators", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(allocators))
	for _, a := range allocators {
		if seen[a.Name()] {
			return nil, fmt.Errorf("%w: duplicate allocator %q", ErrInvalidConfig, a.Name())
		}
		seen[a.Name()] = true
	}

	s := &Simulator{
		config:     config,
		generator:  gen,
		allocators: allocators,
		estimator:  covariance.NewEstimator(covariance.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Workers < 1 {
		s.config.Workers = 1
	}
	return s, nil
}

// SimulateAll runs every iteration with the default estimator and no metrics
func SimulateAll(ctx context.Context, gen generator.Generator, allocators []allocator.Allocator, config Config) (*Result, error) {
	s, err := NewSimulator(config, gen, allocators)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// Run executes all iterations. Iteration i draws from a PCG seeded
// (Seed, i), so the result does not depend on the worker count.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	log.Info().
		Str("generator", s.generator.Name()).
		Int("iterations", s.config.Iterations).
		Int("horizon", s.config.Horizon).
		Int("window", s.config.Window).
		Int("rebal_period", s.config.RebalPeriod).
		Int("workers", s.config.Workers).
		Msg("Starting simulation")

	perIteration := make([][]Trajectory, s.config.Iterations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i := 0; i < s.config.Iterations; i++ {
		if gctx.Err() != nil {
			break
		}
		iteration := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trajectories, err := s.runIteration(iteration)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", iteration, err)
			}
			perIteration[iteration] = trajectories
			if s.progress != nil {
				s.progress.Increment()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Config: s.config, Series: make([]Series, len(s.allocators))}
	for k, a := range s.allocators {
		result.Series[k] = Series{Allocator: a.Name(), Trajectories: make([]Trajectory, s.config.Iterations)}
		for i := range perIteration {
			result.Series[k].Trajectories[i] = perIteration[i][k]
		}
	}

	log.Info().
		Dur("elapsed", time.Since(started)).
		Int("iterations", s.config.Iterations).
		Msg("Simulation complete")
	return result, nil
}

// allocatorState is what one allocator carries between rebalancing points
type allocatorState struct {
	trajectory Trajectory
	held       []float64
}

func (s *Simulator) runIteration(iteration int) ([]Trajectory, error) {
	start := s.metrics.IterationStarted()
	defer s.metrics.IterationFinished(start)

	src := rand.NewPCG(s.config.Seed, uint64(iteration))
	p, err := s.generator.Generate(src, s.config.Horizon, s.config.Assets)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", s.generator.Name(), err)
	}
	if p.Horizon() != s.config.Horizon || p.Assets() != s.config.Assets {
		return nil, fmt.Errorf("%w: generator %s returned %dx%d, want %dx%d", panel.ErrShape,
			s.generator.Name(), p.Horizon(), p.Assets(), s.config.Horizon, s.config.Assets)
	}

	states := make([]allocatorState, len(s.allocators))
	for k := range states {
		states[k].trajectory = Trajectory{Iteration: iteration}
	}

	for _, t := range s.config.RebalancePoints() {
		window, err := p.Window(t, s.config.Window)
		if err != nil {
			return nil, err
		}

		est, estErr := s.estimator.Estimate(window)
		if estErr != nil {
			s.metrics.RecordEstimatorError(Reason(estErr))
		}

		for k, a := range s.allocators {
			st := &states[k]
			if st.trajectory.Halted {
				continue
			}
			if estErr != nil {
				s.skip(st, a.Name(), iteration, t, estErr)
				continue
			}
			s.rebalance(st, a, est, iteration, t)
		}

		s.accrue(states, p, t)
	}

	out := make([]Trajectory, len(states))
	for k := range states {
		out[k] = states[k].trajectory
	}
	log.Debug().Int("iteration", iteration).Msg("Iteration complete")
	return out, nil
}

func (s *Simulator) rebalance(st *allocatorState, a allocator.Allocator, est *covariance.Estimate, iteration, step int) {
	timer := s.metrics.StartAllocation(a.Name())
	weights, err := a.Allocate(est)
	timer.Stop()

	if err == nil {
		err = allocator.Validate(weights, weightTolerance)
		if err != nil {
			err = fmt.Errorf("%w: %v", errInvalidWeights, err)
		}
	}
	if err != nil {
		if allocator.Fatal(err) {
			s.halt(st, a.Name(), iteration, step, err)
			return
		}
		s.skip(st, a.Name(), iteration, step, err)
		return
	}

	recorded := make([]float64, len(weights))
	copy(recorded, weights)
	st.trajectory.Rebalances = append(st.trajectory.Rebalances, Rebalance{Step: step, Weights: recorded})
	st.held = recorded
	s.metrics.RecordRebalance(a.Name())
}

func (s *Simulator) skip(st *allocatorState, name string, iteration, step int, err error) {
	reason := Reason(err)
	st.trajectory.Skips = append(st.trajectory.Skips, Skip{Step: step, Reason: reason, Error: err.Error()})
	s.metrics.RecordSkip(name, reason)
	log.Warn().
		Str("allocator", name).
		Int("iteration", iteration).
		Int("step", step).
		Err(err).
		Msg("Skipping rebalance")
}

func (s *Simulator) halt(st *allocatorState, name string, iteration, step int, err error) {
	st.trajectory.Halted = true
	st.trajectory.HaltStep = step
	st.trajectory.HaltReason = err.Error()
	st.held = nil
	s.metrics.RecordHalt(name)
	log.Warn().
		Str("allocator", name).
		Int("iteration", iteration).
		Int("step", step).
		Err(err).
		Msg("Allocator halted for the rest of the iteration")
}

// accrue books buy-and-hold returns for the steps until the next rebalance
func (s *Simulator) accrue(states []allocatorState, p *panel.Panel, t int) {
	end := min(t+s.config.RebalPeriod, s.config.Horizon)
	for step := t; step < end; step++ {
		row := p.Row(step)
		for k := range states {
			st := &states[k]
			if st.held == nil {
				continue
			}
			value := 0.0
			for i, w := range st.held {
				value += w * row[i]
			}
			st.trajectory.Returns = append(st.trajectory.Returns, Return{Step: step, Value: value})
		}
	}
}

var errInvalidWeights = errors.New("invalid weights")

// Reason maps an allocation or estimation error to a short label
func Reason(err error) string {
	switch {
	case errors.Is(err, covariance.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, allocator.ErrZeroVariance):
		return "zero_variance"
	case errors.Is(err, covariance.ErrSingularCovariance):
		return "singular_covariance"
	case errors.Is(err, allocator.ErrDegenerateSystem):
		return "degenerate_system"
	case errors.Is(err, allocator.ErrInfeasibleBounds):
		return "infeasible_bounds"
	case errors.Is(err, errInvalidWeights):
		return "invalid_weights"
	default:
		return "other"
	}
}
