package allocator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/kushal-sa/HRP/internal/covariance"
)

// IVP weights each asset by the inverse of its variance
type IVP struct{}

// NewIVP creates an inverse-variance allocator
func NewIVP() *IVP {
	return &IVP{}
}

func (*IVP) Name() string { return "IVP" }

// Allocate ignores off-diagonal covariance entries
func (*IVP) Allocate(est *covariance.Estimate) ([]float64, error) {
	return InverseVariance(est.Cov)
}

// InverseVariance returns w_i = (1/v_i) / Σ(1/v_j) over the diagonal of cov
func InverseVariance(cov mat.Symmetric) ([]float64, error) {
	n := cov.SymmetricDim()
	weights := make([]float64, n)

	total := 0.0
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v == 0 {
			return nil, fmt.Errorf("%w: asset %d", ErrZeroVariance, i)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: asset %d has negative variance %g", ErrZeroVariance, i, v)
		}
		weights[i] = 1 / v
		total += weights[i]
	}

	for i := range weights {
		weights[i] /= total
	}
	return weights, nil
}

// portfolioVariance returns wᵀ·cov·w
func portfolioVariance(cov mat.Symmetric, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, cov, v)
}
