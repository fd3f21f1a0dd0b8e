package covariance

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Correlation converts a covariance matrix into a correlation matrix.
// Off-diagonal values pushed outside [-1,1] by rounding are clipped.
func Correlation(cov mat.Symmetric) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	std := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v <= 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: asset %d has variance %g", ErrZeroVariance, i, v)
		}
		std[i] = math.Sqrt(v)
	}

	corr := mat.NewSymDense(n, nil)
	clipped := 0
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			rho := cov.At(i, j) / (std[i] * std[j])
			if rho > 1 || rho < -1 {
				clipped++
				rho = math.Max(-1, math.Min(1, rho))
			}
			corr.SetSym(i, j, rho)
		}
	}

	if clipped > 0 {
		log.Debug().
			Int("clipped", clipped).
			Str("condition", ErrCorrelationOutOfRange.Error()).
			Msg("Clipped correlations to [-1,1]")
	}
	return corr, nil
}

// Distance maps a correlation matrix to the metric d(i,j) = sqrt(0.5*(1-corr(i,j))).
func Distance(corr mat.Symmetric) *mat.SymDense {
	n := corr.SymmetricDim()
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := math.Max(-1, math.Min(1, corr.At(i, j)))
			dist.SetSym(i, j, math.Sqrt(0.5*(1-rho)))
		}
	}
	return dist
}

// FromCorrelation builds a covariance matrix from volatilities and a correlation matrix
func FromCorrelation(sigma []float64, corr mat.Symmetric) *mat.SymDense {
	n := corr.SymmetricDim()
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, sigma[i]*sigma[j]*corr.At(i, j))
		}
	}
	return cov
}
