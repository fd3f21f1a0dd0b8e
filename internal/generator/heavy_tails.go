package generator

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kushal-sa/HRP/internal/panel"
)

// StudentT draws correlated returns with Student-t marginals. Each asset's
// correlated normal is divided by an independent sqrt(χ²(df)/df) and rescaled
// to unit variance when df > 2.
type StudentT struct {
	Moments
	DF          []float64 `yaml:"df" json:"df"`
	Correlation Correlation
}

// NewStudentT creates a Student-t generator
func NewStudentT(df []float64, m Moments, corr Correlation) *StudentT {
	return &StudentT{Moments: m, DF: df, Correlation: corr}
}

func (g *StudentT) Name() string { return "student_t" }

func (g *StudentT) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if err := g.validate(assets); err != nil {
		return nil, err
	}
	if len(g.DF) != assets {
		return nil, fmt.Errorf("%w: %d degrees of freedom for %d assets", ErrInvalidParameters, len(g.DF), assets)
	}
	for i, df := range g.DF {
		if df <= 0 {
			return nil, fmt.Errorf("%w: df[%d]=%g must be positive", ErrInvalidParameters, i, df)
		}
	}

	corr, err := g.Correlation.Sample(src, assets)
	if err != nil {
		return nil, err
	}
	z, err := standardNormals(src, corr, horizon)
	if err != nil {
		return nil, err
	}

	chi := make([]distuv.ChiSquared, assets)
	scale := make([]float64, assets)
	for i, df := range g.DF {
		chi[i] = distuv.ChiSquared{K: df, Src: src}
		scale[i] = 1
		if df > 2 {
			scale[i] = math.Sqrt((df - 2) / df)
		}
	}

	data := make([]float64, horizon*assets)
	for t := 0; t < horizon; t++ {
		for i := 0; i < assets; i++ {
			w := chi[i].Rand() / g.DF[i]
			x := z.At(t, i) / math.Sqrt(w) * scale[i]
			data[t*assets+i] = g.Mean[i] + g.Sigma[i]*x
		}
	}
	return panel.New(horizon, assets, data)
}

// SkewNormal draws correlated skew-normal returns (Azzalini construction),
// standardised so each asset has the configured mean and sigma.
type SkewNormal struct {
	Moments
	Shape       []float64 `yaml:"shape" json:"shape"`
	Correlation Correlation
}

// NewSkewNormal creates a skew-normal generator
func NewSkewNormal(shape []float64, m Moments, corr Correlation) *SkewNormal {
	return &SkewNormal{Moments: m, Shape: shape, Correlation: corr}
}

func (g *SkewNormal) Name() string { return "skew_normal" }

func (g *SkewNormal) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if err := g.validate(assets); err != nil {
		return nil, err
	}
	if len(g.Shape) != assets {
		return nil, fmt.Errorf("%w: %d shape parameters for %d assets", ErrInvalidParameters, len(g.Shape), assets)
	}

	corr, err := g.Correlation.Sample(src, assets)
	if err != nil {
		return nil, err
	}
	z, err := standardNormals(src, corr, horizon)
	if err != nil {
		return nil, err
	}

	delta := make([]float64, assets)
	loc := make([]float64, assets)
	sd := make([]float64, assets)
	for i, a := range g.Shape {
		delta[i] = a / math.Sqrt(1+a*a)
		loc[i] = delta[i] * math.Sqrt(2/math.Pi)
		sd[i] = math.Sqrt(1 - 2*delta[i]*delta[i]/math.Pi)
	}

	u := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := make([]float64, horizon*assets)
	for t := 0; t < horizon; t++ {
		for i := 0; i < assets; i++ {
			x := delta[i]*math.Abs(u.Rand()) + math.Sqrt(1-delta[i]*delta[i])*z.At(t, i)
			data[t*assets+i] = g.Mean[i] + g.Sigma[i]*(x-loc[i])/sd[i]
		}
	}
	return panel.New(horizon, assets, data)
}
