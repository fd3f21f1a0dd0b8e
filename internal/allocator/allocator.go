package allocator

import (
	"errors"
	"fmt"
	"math"

	"github.com/kushal-sa/HRP/internal/covariance"
)

var (
	// ErrZeroVariance is returned when an asset has zero variance
	ErrZeroVariance = covariance.ErrZeroVariance
	// ErrDegenerateSystem is returned when a reduced CLA system cannot be solved
	ErrDegenerateSystem = errors.New("degenerate critical line system")
	// ErrInfeasibleBounds is returned when box constraints admit no fully invested portfolio
	ErrInfeasibleBounds = errors.New("infeasible weight bounds")
	// ErrUnknownLinkage is returned for an unsupported clustering criterion
	ErrUnknownLinkage = errors.New("unknown linkage")
)

// Allocator computes portfolio weights from the covariance structure of one window.
// Implementations are pure: they never retain or mutate the estimate.
type Allocator interface {
	Name() string
	Allocate(est *covariance.Estimate) ([]float64, error)
}

// Fatal reports whether err means the allocator cannot continue for the
// rest of an iteration, as opposed to skipping a single rebalance.
func Fatal(err error) bool {
	return errors.Is(err, ErrDegenerateSystem) || errors.Is(err, ErrInfeasibleBounds)
}

// Validate checks that weights are finite and sum to one within tol
func Validate(weights []float64, tol float64) error {
	sum := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %d is not finite: %v", i, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > tol {
		return fmt.Errorf("weights sum to %.12f, want 1", sum)
	}
	return nil
}
