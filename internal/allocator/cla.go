package allocator

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/kushal-sa/HRP/internal/covariance"
)

// Point selects which frontier portfolio CLA reports per rebalance
type Point string

const (
	PointMinVariance Point = "min_variance"
	PointMaxSharpe   Point = "max_sharpe"
)

const (
	purgeTolerance = 1e-9
	maxCondition   = 1e12
	goldenTol      = 1e-9
)

// CLAConfig holds box constraints and the reported frontier point
type CLAConfig struct {
	Lower       float64   `yaml:"lower" json:"lower"`
	Upper       float64   `yaml:"upper" json:"upper"`
	LowerBounds []float64 `yaml:"lower_bounds,omitempty" json:"lower_bounds,omitempty"` // per asset, overrides Lower
	UpperBounds []float64 `yaml:"upper_bounds,omitempty" json:"upper_bounds,omitempty"` // per asset, overrides Upper
	Point       Point     `yaml:"point" json:"point"`
}

// DefaultCLAConfig is long-only and reports the minimum-variance portfolio
func DefaultCLAConfig() CLAConfig {
	return CLAConfig{Lower: 0, Upper: 1, Point: PointMinVariance}
}

// TurningPoint is a vertex of the efficient frontier
type TurningPoint struct {
	Weights  []float64 `json:"weights"`
	Lambda   float64   `json:"lambda"` // +Inf for the maximum-return start
	Gamma    float64   `json:"gamma"`
	Free     []int     `json:"free"`
	Return   float64   `json:"return"`
	Variance float64   `json:"variance"`
}

// CLA is the critical line algorithm under box constraints
type CLA struct {
	config CLAConfig
}

// NewCLA creates a CLA allocator
func NewCLA(config CLAConfig) (*CLA, error) {
	if config.Point == "" {
		config.Point = PointMinVariance
	}
	if config.Point != PointMinVariance && config.Point != PointMaxSharpe {
		return nil, fmt.Errorf("unknown cla point %q", config.Point)
	}
	if len(config.LowerBounds) == 0 && len(config.UpperBounds) == 0 && config.Lower > config.Upper {
		return nil, fmt.Errorf("%w: lower %.4f above upper %.4f", ErrInfeasibleBounds, config.Lower, config.Upper)
	}
	return &CLA{config: config}, nil
}

func (c *CLA) Name() string { return "CLA" }

// Allocate returns the configured frontier point
func (c *CLA) Allocate(est *covariance.Estimate) ([]float64, error) {
	tps, err := c.Frontier(est.Mean, est.Cov)
	if err != nil {
		return nil, err
	}

	var w []float64
	switch c.config.Point {
	case PointMaxSharpe:
		w = MaxSharpe(tps, est.Mean, est.Cov)
	default:
		w = MinVariance(tps)
	}
	out := make([]float64, len(w))
	copy(out, w)
	return out, nil
}

func (c *CLA) bounds(n int) ([]float64, []float64, error) {
	lb := make([]float64, n)
	ub := make([]float64, n)
	for i := 0; i < n; i++ {
		lb[i], ub[i] = c.config.Lower, c.config.Upper
	}
	if len(c.config.LowerBounds) > 0 {
		if len(c.config.LowerBounds) != n {
			return nil, nil, fmt.Errorf("%w: %d lower bounds for %d assets", ErrInfeasibleBounds, len(c.config.LowerBounds), n)
		}
		copy(lb, c.config.LowerBounds)
	}
	if len(c.config.UpperBounds) > 0 {
		if len(c.config.UpperBounds) != n {
			return nil, nil, fmt.Errorf("%w: %d upper bounds for %d assets", ErrInfeasibleBounds, len(c.config.UpperBounds), n)
		}
		copy(ub, c.config.UpperBounds)
	}

	sumL, sumU := 0.0, 0.0
	for i := 0; i < n; i++ {
		if lb[i] > ub[i] {
			return nil, nil, fmt.Errorf("%w: asset %d lower %.4f above upper %.4f", ErrInfeasibleBounds, i, lb[i], ub[i])
		}
		sumL += lb[i]
		sumU += ub[i]
	}
	if sumL > 1 || sumU < 1 {
		return nil, nil, fmt.Errorf("%w: bounds sum to [%.4f, %.4f]", ErrInfeasibleBounds, sumL, sumU)
	}
	return lb, ub, nil
}

// Frontier computes all turning points from the maximum-return portfolio down
// to the minimum-variance portfolio (lambda = 0).
func (c *CLA) Frontier(mean []float64, cov mat.Symmetric) ([]TurningPoint, error) {
	n := cov.SymmetricDim()
	if len(mean) != n {
		return nil, fmt.Errorf("mean has %d entries for %d assets", len(mean), n)
	}
	lb, ub, err := c.bounds(n)
	if err != nil {
		return nil, err
	}

	s := &claSolver{mean: mean, cov: cov, lb: lb, ub: ub, n: n}
	if err := s.solve(); err != nil {
		return nil, err
	}
	s.purgeNumErr(purgeTolerance)
	s.purgeExcess()
	if len(s.points) == 0 {
		return nil, fmt.Errorf("%w: every turning point violated the constraints", ErrDegenerateSystem)
	}

	for i := range s.points {
		tp := &s.points[i]
		tp.Return = dot(tp.Weights, mean)
		tp.Variance = portfolioVariance(cov, tp.Weights)
	}
	return s.points, nil
}

// MinVariance returns the last turning point's weights
func MinVariance(tps []TurningPoint) []float64 {
	return tps[len(tps)-1].Weights
}

// MaxSharpe searches each frontier segment for the highest mean/std ratio
func MaxSharpe(tps []TurningPoint, mean []float64, cov mat.Symmetric) []float64 {
	sharpe := func(w []float64) float64 {
		v := portfolioVariance(cov, w)
		if v <= 0 {
			return math.Inf(-1)
		}
		return dot(w, mean) / math.Sqrt(v)
	}

	best := tps[0].Weights
	bestSR := sharpe(best)
	for _, tp := range tps[1:] {
		if sr := sharpe(tp.Weights); sr > bestSR {
			best, bestSR = tp.Weights, sr
		}
	}
	for i := 0; i+1 < len(tps); i++ {
		w0, w1 := tps[i].Weights, tps[i+1].Weights
		blend := func(a float64) []float64 {
			w := make([]float64, len(w0))
			for k := range w {
				w[k] = a*w0[k] + (1-a)*w1[k]
			}
			return w
		}
		a := goldenSection(func(a float64) float64 { return sharpe(blend(a)) }, 0, 1)
		if w := blend(a); sharpe(w) > bestSR {
			best, bestSR = w, sharpe(w)
		}
	}
	return best
}

// goldenSection maximises a unimodal f on [lo,hi]
func goldenSection(f func(float64) float64, lo, hi float64) float64 {
	r := (math.Sqrt(5) - 1) / 2
	x1 := hi - r*(hi-lo)
	x2 := lo + r*(hi-lo)
	f1, f2 := f(x1), f(x2)
	for hi-lo > goldenTol {
		if f1 < f2 {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + r*(hi-lo)
			f2 = f(x2)
		} else {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - r*(hi-lo)
			f1 = f(x1)
		}
	}
	return (lo + hi) / 2
}

type claSolver struct {
	mean   []float64
	cov    mat.Symmetric
	lb, ub []float64
	n      int
	points []TurningPoint
}

// reducedSystem is the covariance and mean restricted to the free set, plus
// the coupling to the bounded assets.
type reducedSystem struct {
	inv     *mat.SymDense
	covFB   *mat.Dense
	meanF   *mat.VecDense
	wB      *mat.VecDense
	invOnes *mat.VecDense
	invMean *mat.VecDense
	// inv·covFB·wB, nil when no asset is bounded
	coupling *mat.VecDense
}

func (s *claSolver) solve() error {
	free, w := s.start()
	s.points = append(s.points, TurningPoint{
		Weights: clone(w),
		Lambda:  math.Inf(1),
		Free:    cloneInts(free),
	})

	maxSteps := 10*s.n + 10
	for step := 0; ; step++ {
		if step >= maxSteps {
			return fmt.Errorf("%w: no convergence after %d turning points", ErrDegenerateSystem, step)
		}
		lastLambda := s.points[len(s.points)-1].Lambda

		// a) a free weight reaches a bound
		lIn, iIn, biIn, haveIn := 0.0, -1, 0.0, false
		if len(free) > 1 {
			sys, err := s.reduce(free, w)
			if err != nil {
				return err
			}
			for j, i := range free {
				l, bi, ok := s.lambda(sys, j, &[2]float64{s.lb[i], s.ub[i]}, 0)
				if ok && (!haveIn || l > lIn) {
					lIn, iIn, biIn, haveIn = l, i, bi, true
				}
			}
		}

		// b) a bounded weight becomes free
		lOut, iOut, haveOut := 0.0, -1, false
		if len(free) < s.n {
			for _, i := range s.bounded(free) {
				sys, err := s.reduce(append(cloneInts(free), i), w)
				if err != nil {
					return err
				}
				l, _, ok := s.lambda(sys, len(free), nil, w[i])
				if ok && l < lastLambda && (!haveOut || l > lOut) {
					lOut, iOut, haveOut = l, i, true
				}
			}
		}

		var lambda float64
		minVariance := false
		if (!haveIn || lIn < 0) && (!haveOut || lOut < 0) {
			minVariance = true
		} else if haveIn && (!haveOut || lIn > lOut) {
			lambda = lIn
			free = remove(free, iIn)
			w[iIn] = biIn
		} else {
			lambda = lOut
			free = append(free, iOut)
		}

		if minVariance {
			settled, gamma, err := s.settleMinVariance(free, w)
			if err != nil {
				return err
			}
			s.points = append(s.points, TurningPoint{
				Weights: clone(w),
				Gamma:   gamma,
				Free:    cloneInts(settled),
			})
			return nil
		}

		sys, err := s.reduce(free, w)
		if err != nil {
			return err
		}
		wF, gamma := s.weights(sys, lambda)
		for k, i := range free {
			w[i] = wF[k]
		}
		s.points = append(s.points, TurningPoint{
			Weights: clone(w),
			Lambda:  lambda,
			Gamma:   gamma,
			Free:    cloneInts(free),
		})
	}
}

// settleMinVariance moves the feasible portfolio w to the minimum-variance
// portfolio with a primal active-set search. It frees bounded assets whose
// multiplier has the wrong sign, which the lambda events miss when expected
// returns tie. w is updated in place; the final free set and gamma are returned.
func (s *claSolver) settleMinVariance(free []int, w []float64) ([]int, float64, error) {
	free = cloneInts(free)
	maxSteps := 4*s.n + 10
	for step := 0; step < maxSteps; step++ {
		sys, err := s.reduce(free, w)
		if err != nil {
			return nil, 0, err
		}
		sys.meanF.Zero()
		sys.invMean.Zero()
		target, gamma := s.weights(sys, 0)

		// longest step towards target that keeps every free weight in its box
		alpha, blocking, blockAt := 1.0, -1, 0.0
		for k, i := range free {
			d := target[k] - w[i]
			var a, bound float64
			switch {
			case d < 0 && target[k] < s.lb[i]-purgeTolerance:
				a, bound = (s.lb[i]-w[i])/d, s.lb[i]
			case d > 0 && target[k] > s.ub[i]+purgeTolerance:
				a, bound = (s.ub[i]-w[i])/d, s.ub[i]
			default:
				continue
			}
			if a = max(a, 0); a < alpha {
				alpha, blocking, blockAt = a, i, bound
			}
		}
		for k, i := range free {
			w[i] += alpha * (target[k] - w[i])
		}
		if blocking >= 0 {
			w[blocking] = blockAt
			free = remove(free, blocking)
			continue
		}

		// (Σw)_i below gamma at a lower bound, or above it at an upper bound,
		// means moving asset i off its bound lowers the variance
		enter, worst := -1, purgeTolerance
		for _, i := range s.bounded(free) {
			if s.ub[i]-s.lb[i] <= purgeTolerance {
				continue
			}
			g := 0.0
			for j := 0; j < s.n; j++ {
				g += s.cov.At(i, j) * w[j]
			}
			v := g - gamma
			if w[i]-s.lb[i] <= s.ub[i]-w[i] {
				v = gamma - g
			}
			if v > worst {
				enter, worst = i, v
			}
		}
		if enter < 0 {
			return free, gamma, nil
		}
		free = append(free, enter)
	}
	return nil, 0, fmt.Errorf("%w: minimum-variance search did not settle after %d steps", ErrDegenerateSystem, maxSteps)
}

// start builds the highest-return feasible portfolio: every asset at its lower
// bound, then assets in decreasing mean order raised to their upper bound until
// fully invested. The last raised asset is the only free one.
func (s *claSolver) start() ([]int, []float64) {
	idx := make([]int, s.n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.mean[idx[a]] < s.mean[idx[b]] })

	w := clone(s.lb)
	i := s.n
	for sum(w) < 1 && i > 0 {
		i--
		w[idx[i]] = s.ub[idx[i]]
	}
	if i == s.n {
		i--
	}
	w[idx[i]] += 1 - sum(w)
	return []int{idx[i]}, w
}

func (s *claSolver) bounded(free []int) []int {
	isFree := make([]bool, s.n)
	for _, i := range free {
		isFree[i] = true
	}
	out := make([]int, 0, s.n-len(free))
	for i := 0; i < s.n; i++ {
		if !isFree[i] {
			out = append(out, i)
		}
	}
	return out
}

func (s *claSolver) reduce(free []int, w []float64) (*reducedSystem, error) {
	f := len(free)
	covF := mat.NewSymDense(f, nil)
	meanF := mat.NewVecDense(f, nil)
	for a, i := range free {
		meanF.SetVec(a, s.mean[i])
		for b := a; b < f; b++ {
			covF.SetSym(a, b, s.cov.At(i, free[b]))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(covF); !ok {
		return nil, fmt.Errorf("%w: free set %v is not positive definite", ErrDegenerateSystem, free)
	}
	if cond := chol.Cond(); cond > maxCondition || math.IsNaN(cond) {
		return nil, fmt.Errorf("%w: free set %v has condition number %.3g", ErrDegenerateSystem, free, cond)
	}
	inv := mat.NewSymDense(f, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateSystem, err)
	}

	ones := mat.NewVecDense(f, nil)
	for a := 0; a < f; a++ {
		ones.SetVec(a, 1)
	}
	sys := &reducedSystem{inv: inv, meanF: meanF}
	sys.invOnes = mat.NewVecDense(f, nil)
	sys.invOnes.MulVec(inv, ones)
	sys.invMean = mat.NewVecDense(f, nil)
	sys.invMean.MulVec(inv, meanF)

	b := s.bounded(free)
	if len(b) > 0 {
		sys.covFB = mat.NewDense(f, len(b), nil)
		sys.wB = mat.NewVecDense(len(b), nil)
		for a, i := range free {
			for k, j := range b {
				sys.covFB.Set(a, k, s.cov.At(i, j))
			}
		}
		for k, j := range b {
			sys.wB.SetVec(k, w[j])
		}
		tmp := mat.NewVecDense(f, nil)
		tmp.MulVec(sys.covFB, sys.wB)
		sys.coupling = mat.NewVecDense(f, nil)
		sys.coupling.MulVec(inv, tmp)
	}
	return sys, nil
}

// lambda returns the frontier slope at which free asset j (position in the
// reduced system) hits a bound. With bounds set, the bound is chosen by the
// direction of travel; otherwise fixed is the value it moves to.
func (s *claSolver) lambda(sys *reducedSystem, j int, bounds *[2]float64, fixed float64) (float64, float64, bool) {
	c1 := sumVec(sys.invOnes)
	c3 := sumVec(sys.invMean)
	c := -c1*sys.invMean.AtVec(j) + c3*sys.invOnes.AtVec(j)
	if c == 0 {
		return 0, 0, false
	}

	bi := fixed
	if bounds != nil {
		if c > 0 {
			bi = bounds[1]
		} else {
			bi = bounds[0]
		}
	}

	if sys.coupling == nil {
		return (sys.invOnes.AtVec(j) - c1*bi) / c, bi, true
	}
	l1 := sumVec(sys.wB)
	l2 := sumVec(sys.coupling)
	return ((1-l1+l2)*sys.invOnes.AtVec(j) - c1*(bi+sys.coupling.AtVec(j))) / c, bi, true
}

// weights solves the stationarity conditions on the free set for slope lambda
func (s *claSolver) weights(sys *reducedSystem, lambda float64) ([]float64, float64) {
	g1 := sumVec(sys.invMean)
	g2 := sumVec(sys.invOnes)

	var gamma float64
	if sys.coupling == nil {
		gamma = -lambda*g1/g2 + 1/g2
	} else {
		g3 := sumVec(sys.wB)
		g4 := sumVec(sys.coupling)
		gamma = -lambda*g1/g2 + (1-g3+g4)/g2
	}

	f := sys.invOnes.Len()
	out := make([]float64, f)
	for a := 0; a < f; a++ {
		v := gamma*sys.invOnes.AtVec(a) + lambda*sys.invMean.AtVec(a)
		if sys.coupling != nil {
			v -= sys.coupling.AtVec(a)
		}
		out[a] = v
	}
	return out, gamma
}

// purgeNumErr drops turning points that break the budget or box constraints
// because of ill-conditioning.
func (s *claSolver) purgeNumErr(tol float64) {
	kept := s.points[:0]
	for _, tp := range s.points {
		ok := math.Abs(sum(tp.Weights)-1) <= tol
		for j := 0; ok && j < s.n; j++ {
			if tp.Weights[j]-s.lb[j] < -tol || tp.Weights[j]-s.ub[j] > tol {
				ok = false
			}
		}
		if ok {
			kept = append(kept, tp)
		}
	}
	s.points = kept
}

// purgeExcess drops interior turning points dominated in expected return by a
// later one. The first and last points are always kept.
func (s *claSolver) purgeExcess() {
	i := 1
	for i < len(s.points)-1 {
		mu := dot(s.points[i].Weights, s.mean)
		dominated := false
		for j := i + 1; j < len(s.points); j++ {
			if mu < dot(s.points[j].Weights, s.mean) {
				dominated = true
				break
			}
		}
		if dominated {
			s.points = append(s.points[:i], s.points[i+1:]...)
			continue
		}
		i++
	}
}

func sumVec(v *mat.VecDense) float64 {
	s := 0.0
	for i := 0; i < v.Len(); i++ {
		s += v.AtVec(i)
	}
	return s
}

func sum(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func clone(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func cloneInts(x []int) []int {
	out := make([]int, len(x))
	copy(out, x)
	return out
}

func remove(x []int, v int) []int {
	out := make([]int, 0, len(x))
	for _, e := range x {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
