package generator

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/panel"
)

// ErrInvalidParameters is returned when a generator's configuration does not fit the request
var ErrInvalidParameters = errors.New("invalid generator parameters")

// Generator draws synthetic return panels. Every draw uses only the source it
// is handed, so two draws from sources with the same seed are identical and
// draws from differently seeded sources are independent.
type Generator interface {
	Name() string
	Generate(src rand.Source, horizon, assets int) (*panel.Panel, error)
}

// Moments are the per-asset location and scale of a parametric generator
type Moments struct {
	Sigma []float64 `yaml:"sigma" json:"sigma"`
	Mean  []float64 `yaml:"mean" json:"mean"`
}

func (m Moments) validate(assets int) error {
	if len(m.Sigma) != assets || len(m.Mean) != assets {
		return fmt.Errorf("%w: %d sigmas and %d means for %d assets", ErrInvalidParameters, len(m.Sigma), len(m.Mean), assets)
	}
	for i, s := range m.Sigma {
		if s <= 0 {
			return fmt.Errorf("%w: sigma[%d]=%g must be positive", ErrInvalidParameters, i, s)
		}
	}
	return nil
}

// Constant fills a vector of length n with v
func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func checkShape(horizon, assets int) error {
	if horizon <= 0 || assets <= 0 {
		return fmt.Errorf("%w: horizon=%d assets=%d", ErrInvalidParameters, horizon, assets)
	}
	return nil
}

// standardNormals draws horizon rows of unit-variance normals with the given correlation
func standardNormals(src rand.Source, corr mat.Symmetric, horizon int) (*mat.Dense, error) {
	n := corr.SymmetricDim()
	dist, ok := distmv.NewNormal(make([]float64, n), corr, src)
	if !ok {
		return nil, fmt.Errorf("%w: correlation matrix is not positive definite", ErrInvalidParameters)
	}
	z := mat.NewDense(horizon, n, nil)
	row := make([]float64, n)
	for t := 0; t < horizon; t++ {
		dist.Rand(row)
		z.SetRow(t, row)
	}
	return z, nil
}

// Gaussian draws correlated normal returns
type Gaussian struct {
	Moments
	Correlation Correlation
}

// NewGaussian creates a Gaussian generator
func NewGaussian(m Moments, corr Correlation) *Gaussian {
	return &Gaussian{Moments: m, Correlation: corr}
}

func (g *Gaussian) Name() string { return "gaussian" }

func (g *Gaussian) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if err := g.validate(assets); err != nil {
		return nil, err
	}
	corr, err := g.Correlation.Sample(src, assets)
	if err != nil {
		return nil, err
	}

	dist, ok := distmv.NewNormal(g.Mean, covariance.FromCorrelation(g.Sigma, corr), src)
	if !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", ErrInvalidParameters)
	}
	data := make([]float64, horizon*assets)
	for t := 0; t < horizon; t++ {
		dist.Rand(data[t*assets : (t+1)*assets])
	}
	return panel.New(horizon, assets, data)
}
