package report

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kushal-sa/HRP/internal/simulation"
)

// PeriodsPerYear annualises the Sharpe ratio of daily returns
const PeriodsPerYear = 252

// Summary aggregates a simulation result across iterations
type Summary struct {
	Config     simulation.Config  `json:"config"`
	Allocators []AllocatorSummary `json:"allocators"`
}

// AllocatorSummary describes one allocator's weights and realized returns
type AllocatorSummary struct {
	Allocator   string         `json:"allocator"`
	Steps       []StepStats    `json:"steps"`
	Realized    RealizedStats  `json:"realized"`
	OOSVariance float64        `json:"oos_variance"`
	Rebalances  int            `json:"rebalances"`
	Skips       int            `json:"skips"`
	Halts       int            `json:"halts"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

// StepStats are the cross-iteration weight moments at one rebalancing point.
// Count is the number of iterations that recorded weights there.
type StepStats struct {
	Step  int       `json:"step"`
	Count int       `json:"count"`
	Mean  []float64 `json:"mean,omitempty"`
	Std   []float64 `json:"std,omitempty"`
}

// RealizedStats are per-iteration return statistics averaged over iterations
type RealizedStats struct {
	Iterations  int     `json:"iterations"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Summarize computes weight moments per step and realized return statistics.
// Missing rebalances reduce Count; they never enter the moments as zeros.
func Summarize(result *simulation.Result) *Summary {
	s := &Summary{Config: result.Config, Allocators: make([]AllocatorSummary, 0, len(result.Series))}
	points := result.Config.RebalancePoints()
	for _, series := range result.Series {
		s.Allocators = append(s.Allocators, summarizeSeries(series, points, result.Config.Assets))
	}
	return s
}

func summarizeSeries(series simulation.Series, points []int, assets int) AllocatorSummary {
	out := AllocatorSummary{Allocator: series.Allocator, SkipReasons: map[string]int{}}

	byStep := make(map[int][][]float64, len(points))
	var pooled []float64
	var perIter []RealizedStats
	for _, traj := range series.Trajectories {
		for _, rb := range traj.Rebalances {
			byStep[rb.Step] = append(byStep[rb.Step], rb.Weights)
		}
		out.Rebalances += len(traj.Rebalances)
		out.Skips += len(traj.Skips)
		for _, sk := range traj.Skips {
			out.SkipReasons[sk.Reason]++
		}
		if traj.Halted {
			out.Halts++
		}

		returns := traj.RealizedReturns()
		pooled = append(pooled, returns...)
		if rs, ok := realized(returns); ok {
			perIter = append(perIter, rs)
		}
	}
	if len(out.SkipReasons) == 0 {
		out.SkipReasons = nil
	}

	out.Steps = make([]StepStats, len(points))
	for k, step := range points {
		out.Steps[k] = stepStats(step, byStep[step], assets)
	}

	out.Realized = average(perIter)
	if len(pooled) > 1 {
		out.OOSVariance = stat.Variance(pooled, nil)
	}
	return out
}

func stepStats(step int, weights [][]float64, assets int) StepStats {
	st := StepStats{Step: step, Count: len(weights)}
	if len(weights) == 0 {
		return st
	}
	st.Mean = make([]float64, assets)
	st.Std = make([]float64, assets)
	col := make([]float64, len(weights))
	for i := 0; i < assets; i++ {
		for k, w := range weights {
			col[k] = w[i]
		}
		if len(col) > 1 {
			st.Mean[i], st.Std[i] = stat.MeanStdDev(col, nil)
		} else {
			st.Mean[i] = col[0]
		}
	}
	return st
}

// realized needs at least two returns for a standard deviation
func realized(returns []float64) (RealizedStats, bool) {
	if len(returns) < 2 {
		return RealizedStats{}, false
	}
	mean, std := stat.MeanStdDev(returns, nil)
	rs := RealizedStats{Iterations: 1, Mean: mean, Std: std, MaxDrawdown: MaxDrawdown(returns)}
	if std > 0 {
		rs.Sharpe = mean / std * math.Sqrt(PeriodsPerYear)
	}
	return rs, true
}

func average(stats []RealizedStats) RealizedStats {
	out := RealizedStats{Iterations: len(stats)}
	if len(stats) == 0 {
		return out
	}
	for _, s := range stats {
		out.Mean += s.Mean
		out.Std += s.Std
		out.Sharpe += s.Sharpe
		out.MaxDrawdown += s.MaxDrawdown
	}
	n := float64(len(stats))
	out.Mean /= n
	out.Std /= n
	out.Sharpe /= n
	out.MaxDrawdown /= n
	return out
}

// MaxDrawdown is the largest peak-to-trough loss of compounded wealth, as a fraction
func MaxDrawdown(returns []float64) float64 {
	wealth, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		if dd := 1 - wealth/peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Lookup returns the summary of the named allocator
func (s *Summary) Lookup(allocator string) (*AllocatorSummary, bool) {
	for i := range s.Allocators {
		if s.Allocators[i].Allocator == allocator {
			return &s.Allocators[i], true
		}
	}
	return nil, false
}
