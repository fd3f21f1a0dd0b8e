package simulation

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for simulation parameters that cannot produce a rebalance
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config represents the rolling-window parameters of one run
type Config struct {
	Horizon     int    `yaml:"horizon" json:"horizon"`           // Panel length drawn per iteration
	Window      int    `yaml:"window" json:"window"`             // Trailing observations per estimate
	RebalPeriod int    `yaml:"rebal_period" json:"rebal_period"` // Steps between rebalances
	Iterations  int    `yaml:"iterations" json:"iterations"`     // Monte Carlo draws
	Assets      int    `yaml:"assets" json:"assets"`
	Seed        uint64 `yaml:"seed" json:"seed"`
	Workers     int    `yaml:"workers" json:"workers"` // Parallel iterations (default 1)
}

// DefaultConfig returns the monthly-rebalance, yearly-window configuration
func DefaultConfig() Config {
	return Config{
		Horizon:     22 * 14,
		Window:      260,
		RebalPeriod: 22,
		Iterations:  100,
		Assets:      10,
		Seed:        0,
		Workers:     1,
	}
}

// Validate checks that at least one rebalancing point exists
func (c Config) Validate() error {
	switch {
	case c.Window < 2:
		return fmt.Errorf("%w: window %d must be at least 2", ErrInvalidConfig, c.Window)
	case c.RebalPeriod < 1:
		return fmt.Errorf("%w: rebalance period %d must be positive", ErrInvalidConfig, c.RebalPeriod)
	case c.Horizon < c.Window:
		return fmt.Errorf("%w: horizon %d shorter than window %d", ErrInvalidConfig, c.Horizon, c.Window)
	case c.Iterations < 1:
		return fmt.Errorf("%w: iterations %d must be positive", ErrInvalidConfig, c.Iterations)
	case c.Assets < 1:
		return fmt.Errorf("%w: assets %d must be positive", ErrInvalidConfig, c.Assets)
	}
	return nil
}

// RebalancePoints returns the cursor positions visited in every iteration
func (c Config) RebalancePoints() []int {
	if c.RebalPeriod < 1 || c.Horizon < c.Window {
		return nil
	}
	points := make([]int, 0, (c.Horizon-c.Window)/c.RebalPeriod+1)
	for t := c.Window; t <= c.Horizon; t += c.RebalPeriod {
		points = append(points, t)
	}
	return points
}

// Result is the output of SimulateAll: one series per allocator, in the order given
type Result struct {
	Config Config   `json:"config"`
	Series []Series `json:"series"`
}

// Series holds every iteration's trajectory for one allocator
type Series struct {
	Allocator    string       `json:"allocator"`
	Trajectories []Trajectory `json:"trajectories"`
}

// Trajectory is one allocator's path through one iteration. Missing
// rebalancing points appear in Skips, never as zero weights.
type Trajectory struct {
	Iteration  int         `json:"iteration"`
	Rebalances []Rebalance `json:"rebalances"`
	Skips      []Skip      `json:"skips,omitempty"`
	Returns    []Return    `json:"returns"`
	Halted     bool        `json:"halted"`
	HaltStep   int         `json:"halt_step,omitempty"`
	HaltReason string      `json:"halt_reason,omitempty"`
}

// Rebalance is a recorded weight vector at a cursor position
type Rebalance struct {
	Step    int       `json:"step"`
	Weights []float64 `json:"weights"`
}

// Skip is a rebalancing point that produced no weights
type Skip struct {
	Step   int    `json:"step"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Return is the realized one-step portfolio return under the held weights
type Return struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Lookup returns the series of the named allocator
func (r *Result) Lookup(allocator string) (*Series, bool) {
	for i := range r.Series {
		if r.Series[i].Allocator == allocator {
			return &r.Series[i], true
		}
	}
	return nil, false
}

// Steps returns the cursor positions at which weights were recorded
func (t *Trajectory) Steps() []int {
	steps := make([]int, len(t.Rebalances))
	for i, rb := range t.Rebalances {
		steps[i] = rb.Step
	}
	return steps
}

// RealizedReturns returns the realized return values in step order
func (t *Trajectory) RealizedReturns() []float64 {
	out := make([]float64, len(t.Returns))
	for i, r := range t.Returns {
		out[i] = r.Value
	}
	return out
}
