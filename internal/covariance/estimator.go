package covariance

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrSingularCovariance is returned when a window cannot produce an invertible covariance matrix
	ErrSingularCovariance = errors.New("singular covariance")
	// ErrInsufficientData is returned for windows with fewer than two observations
	ErrInsufficientData = errors.New("insufficient observations")
	// ErrZeroVariance marks an asset whose variance is zero (constant returns)
	ErrZeroVariance = errors.New("zero variance asset")
	// ErrCorrelationOutOfRange names a correlation pushed outside [-1,1] by rounding.
	// It is recovered by clipping and never returned.
	ErrCorrelationOutOfRange = errors.New("correlation out of range")
)

// Method selects how observations in a window are weighted
type Method string

const (
	MethodSample Method = "sample"
	MethodEWMA   Method = "ewma"
)

// Config controls covariance estimation
type Config struct {
	Method       Method  `yaml:"method" json:"method"`
	Decay        float64 `yaml:"decay" json:"decay"`                 // per-step decay for ewma, in (0,1)
	MaxCondition float64 `yaml:"max_condition" json:"max_condition"` // larger condition numbers are treated as singular
}

// DefaultConfig returns plain sample covariance with a 1e12 condition cap
func DefaultConfig() Config {
	return Config{
		Method:       MethodSample,
		Decay:        0.05,
		MaxCondition: 1e12,
	}
}

// Validate checks the estimator configuration
func (c Config) Validate() error {
	switch c.Method {
	case MethodSample:
	case MethodEWMA:
		if c.Decay <= 0 || c.Decay >= 1 {
			return fmt.Errorf("ewma decay %.4f outside (0,1)", c.Decay)
		}
	default:
		return fmt.Errorf("unknown covariance method %q", c.Method)
	}
	if c.MaxCondition <= 1 {
		return fmt.Errorf("max condition %.3g must exceed 1", c.MaxCondition)
	}
	return nil
}

// Estimate is the covariance structure of one window
type Estimate struct {
	Cov  *mat.SymDense
	Mean []float64
}

// Assets returns the dimension of the estimate
func (e *Estimate) Assets() int {
	return e.Cov.SymmetricDim()
}

// Estimator derives covariance estimates from trailing windows
type Estimator struct {
	config Config
}

// NewEstimator creates an estimator, falling back to defaults for zero fields
func NewEstimator(config Config) *Estimator {
	def := DefaultConfig()
	if config.Method == "" {
		config.Method = def.Method
	}
	if config.MaxCondition == 0 {
		config.MaxCondition = def.MaxCondition
	}
	if config.Method == MethodEWMA && config.Decay == 0 {
		config.Decay = def.Decay
	}
	return &Estimator{config: config}
}

// Config returns the effective configuration
func (e *Estimator) Config() Config {
	return e.config
}

// Estimate computes the covariance matrix and mean vector of a window whose
// rows are time steps and columns are assets.
func (e *Estimator) Estimate(window mat.Matrix) (*Estimate, error) {
	rows, assets := window.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("%w: %d rows", ErrInsufficientData, rows)
	}
	if rows < assets {
		return nil, fmt.Errorf("%w: window of %d rows for %d assets is rank deficient", ErrSingularCovariance, rows, assets)
	}

	weights := e.weights(rows)

	cov := mat.NewSymDense(assets, nil)
	stat.CovarianceMatrix(cov, window, weights)

	mean := make([]float64, assets)
	col := make([]float64, rows)
	for j := 0; j < assets; j++ {
		mat.Col(col, j, window)
		mean[j] = stat.Mean(col, weights)
	}

	if err := e.checkInvertible(cov); err != nil {
		return nil, err
	}

	return &Estimate{Cov: cov, Mean: mean}, nil
}

// weights returns nil for equal weighting, otherwise exponential weights
// normalised to sum to rows so the unbiased denominator stays rows-1.
func (e *Estimator) weights(rows int) []float64 {
	if e.config.Method != MethodEWMA {
		return nil
	}
	w := make([]float64, rows)
	sum := 0.0
	for t := 0; t < rows; t++ {
		age := rows - 1 - t
		w[t] = math.Pow(1-e.config.Decay, float64(age))
		sum += w[t]
	}
	scale := float64(rows) / sum
	for t := range w {
		w[t] *= scale
	}
	return w
}

func (e *Estimator) checkInvertible(cov *mat.SymDense) error {
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if math.IsNaN(v) {
			return fmt.Errorf("%w: asset %d has variance %g", ErrSingularCovariance, i, v)
		}
		if v <= 0 {
			return fmt.Errorf("%w: %w: asset %d has variance %g", ErrSingularCovariance, ErrZeroVariance, i, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return fmt.Errorf("%w: matrix is not positive definite", ErrSingularCovariance)
	}
	if cond := chol.Cond(); cond > e.config.MaxCondition || math.IsInf(cond, 0) || math.IsNaN(cond) {
		return fmt.Errorf("%w: condition number %.3g exceeds %.3g", ErrSingularCovariance, cond, e.config.MaxCondition)
	}
	return nil
}
