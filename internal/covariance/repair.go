package covariance

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const eigenFloor = 1e-8

// NearestCorrelation returns a positive definite correlation matrix close to c by
// flooring its eigenvalues and rescaling back to a unit diagonal. Matrices that
// are already positive definite come back unchanged up to rounding.
func NearestCorrelation(c mat.Symmetric) (*mat.SymDense, error) {
	n := c.SymmetricDim()

	var es mat.EigenSym
	if ok := es.Factorize(c, true); !ok {
		return nil, errors.New("eigen decomposition failed")
	}
	vals := es.Values(nil)

	repaired := true
	for _, v := range vals {
		if v < eigenFloor {
			repaired = false
			break
		}
	}
	if repaired {
		return mat.NewSymDense(n, symData(c)), nil
	}

	var vecs mat.Dense
	es.VectorsTo(&vecs)
	for i := range vals {
		vals[i] = math.Max(vals[i], eigenFloor)
	}

	raw := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < n; k++ {
				s += vecs.At(i, k) * vals[k] * vecs.At(j, k)
			}
			raw.SetSym(i, j, s)
		}
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, raw.At(i, j)/math.Sqrt(raw.At(i, i)*raw.At(j, j)))
		}
	}
	return out, nil
}

func symData(c mat.Symmetric) []float64 {
	n := c.SymmetricDim()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data[i*n+j] = c.At(i, j)
		}
	}
	return data
}
