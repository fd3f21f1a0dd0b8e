package generator

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kushal-sa/HRP/internal/panel"
)

func column(p *panel.Panel, j int) []float64 {
	return mat.Col(nil, j, p.Matrix())
}

func TestGaussian_ShapeAndDeterminism(t *testing.T) {
	g := NewGaussian(Moments{Sigma: Constant(3, 0.01), Mean: Constant(3, 0)}, Correlated(0.2, 0.4))

	a, err := g.Generate(rand.NewPCG(42, 0), 50, 3)
	require.NoError(t, err)
	assert.Equal(t, 50, a.Horizon())
	assert.Equal(t, 3, a.Assets())

	b, err := g.Generate(rand.NewPCG(42, 0), 50, 3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Matrix(), b.Matrix()), "same seed must give the same draw")

	c, err := g.Generate(rand.NewPCG(42, 1), 50, 3)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a.Matrix(), c.Matrix()), "different streams must differ")
}

func TestGaussian_RejectsMismatchedMoments(t *testing.T) {
	g := NewGaussian(Moments{Sigma: Constant(2, 0.01), Mean: Constant(2, 0)}, Diagonal())
	_, err := g.Generate(rand.NewPCG(1, 1), 10, 3)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = g.Generate(rand.NewPCG(1, 1), 0, 2)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestCorrelation_Groups(t *testing.T) {
	corr := Groups([]int{2, 2}, [][2]float64{{0.8, 0.9}, {0.0, 0.0}})
	g := NewGaussian(Moments{Sigma: Constant(4, 1), Mean: Constant(4, 0)}, corr)

	p, err := g.Generate(rand.NewPCG(3, 9), 5000, 4)
	require.NoError(t, err)

	within := stat.Correlation(column(p, 0), column(p, 1), nil)
	across := stat.Correlation(column(p, 0), column(p, 2), nil)
	assert.Greater(t, within, 0.7)
	assert.Less(t, math.Abs(across), 0.1)
}

func TestCorrelation_Validate(t *testing.T) {
	assert.NoError(t, Diagonal().Validate(3))
	assert.Error(t, Correlated(0.5, 0.2).Validate(3))
	assert.Error(t, Groups([]int{2}, [][2]float64{{0.1, 0.2}}).Validate(3))
	assert.Error(t, Correlation{Kind: "toeplitz"}.Validate(3))
}

func TestCorrelation_FullRangeIsRepaired(t *testing.T) {
	c, err := Correlated(0.8, 1.0).Sample(rand.NewPCG(5, 5), 5)
	require.NoError(t, err)

	var chol mat.Cholesky
	assert.True(t, chol.Factorize(c))
}

func TestStudentT_MatchesSigma(t *testing.T) {
	g := NewStudentT([]float64{5, 5}, Moments{Sigma: []float64{0.01, 0.02}, Mean: []float64{0, 0}}, Diagonal())

	p, err := g.Generate(rand.NewPCG(11, 0), 20000, 2)
	require.NoError(t, err)

	assert.InDelta(t, 0.01, stat.StdDev(column(p, 0), nil), 0.001)
	assert.InDelta(t, 0.02, stat.StdDev(column(p, 1), nil), 0.002)
	assert.Greater(t, stat.ExKurtosis(column(p, 0), nil), 1.0, "t(5) tails are heavier than normal")
}

func TestStudentT_RejectsBadDF(t *testing.T) {
	g := NewStudentT([]float64{0}, Moments{Sigma: []float64{1}, Mean: []float64{0}}, Diagonal())
	_, err := g.Generate(rand.NewPCG(1, 1), 10, 1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestSkewNormal_Moments(t *testing.T) {
	g := NewSkewNormal([]float64{5}, Moments{Sigma: []float64{0.01}, Mean: []float64{0.001}}, Diagonal())

	p, err := g.Generate(rand.NewPCG(13, 0), 20000, 1)
	require.NoError(t, err)

	x := column(p, 0)
	assert.InDelta(t, 0.001, stat.Mean(x, nil), 5e-4)
	assert.InDelta(t, 0.01, stat.StdDev(x, nil), 5e-4)
	assert.Greater(t, stat.Skew(x, nil), 0.3)
}

type constantGenerator struct{ value float64 }

func (c constantGenerator) Name() string { return "constant" }

func (c constantGenerator) Generate(_ rand.Source, horizon, assets int) (*panel.Panel, error) {
	return panel.New(horizon, assets, Constant(horizon*assets, c.value))
}

func TestDynamic_Segments(t *testing.T) {
	g := NewDynamic(
		Segment{Length: 3, Generator: constantGenerator{1}},
		Segment{Length: 2, Generator: constantGenerator{2}},
		Segment{Length: 4, Generator: constantGenerator{3}},
	)

	p, err := g.Generate(rand.NewPCG(1, 1), 12, 2)
	require.NoError(t, err)
	require.Equal(t, 12, p.Horizon())

	assert.Equal(t, 1.0, p.At(2, 0))
	assert.Equal(t, 2.0, p.At(3, 1))
	assert.Equal(t, 2.0, p.At(4, 0))
	assert.Equal(t, 3.0, p.At(5, 0))
	assert.Equal(t, 3.0, p.At(11, 1), "last segment stretches to the horizon")
	assert.Equal(t, []int{3, 5}, g.Breakpoints(12))

	short, err := g.Generate(rand.NewPCG(1, 1), 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, short.Horizon())
	assert.Equal(t, 2.0, short.At(3, 0))
	assert.Equal(t, []int{3}, g.Breakpoints(4))
}

func TestDynamic_NoSegments(t *testing.T) {
	_, err := NewDynamic().Generate(rand.NewPCG(1, 1), 4, 2)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestBootstrap_DrawsSourceRows(t *testing.T) {
	src, err := panel.FromRows([][]float64{{1, -1}, {2, -2}, {3, -3}, {4, -4}})
	require.NoError(t, err)

	g := NewBootstrap(src, 2)
	p, err := g.Generate(rand.NewPCG(8, 8), 9, 2)
	require.NoError(t, err)
	require.Equal(t, 9, p.Horizon())

	for tstep := 0; tstep < p.Horizon(); tstep++ {
		row := p.Row(tstep)
		assert.Equal(t, -row[0], row[1], "rows must be resampled whole")
		assert.Contains(t, []float64{1, 2, 3, 4}, row[0])
	}

	_, err = g.Generate(rand.NewPCG(8, 8), 9, 3)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestBootstrap_BlockLengthsAreGeometric(t *testing.T) {
	const n = 50
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{float64(i), -float64(i)}
	}
	src, err := panel.FromRows(rows)
	require.NoError(t, err)

	p, err := NewBootstrap(src, 4).Generate(rand.NewPCG(3, 9), 4000, 2)
	require.NoError(t, err)

	var lengths []int
	run := 1
	for tstep := 1; tstep < p.Horizon(); tstep++ {
		prev, cur := int(p.At(tstep-1, 0)), int(p.At(tstep, 0))
		if cur == (prev+1)%n {
			run++
			continue
		}
		lengths = append(lengths, run)
		run = 1
	}
	lengths = append(lengths, run)

	seen := map[int]bool{}
	total := 0
	for _, l := range lengths {
		seen[l] = true
		total += l
	}
	assert.Greater(t, len(seen), 3, "block lengths must vary")
	assert.InDelta(t, 4.0, float64(total)/float64(len(lengths)), 1.0)
}

func TestLopez_ShapeAndShocks(t *testing.T) {
	g := NewLopez(260, 5, 5, 0, 0.01, 0.25)

	p, err := g.Generate(rand.NewPCG(21, 0), 264, 10)
	require.NoError(t, err)
	assert.Equal(t, 264, p.Horizon())
	assert.Equal(t, 10, p.Assets())

	big := 0
	for tstep := 260; tstep < 263; tstep++ {
		for i := 0; i < 10; i++ {
			if p.At(tstep, i) == 2 {
				big++
			}
		}
	}
	assert.GreaterOrEqual(t, big, 1, "positive shocks land after the shock start")

	for tstep := 0; tstep < 260; tstep++ {
		for i := 0; i < 10; i++ {
			assert.Less(t, math.Abs(p.At(tstep, i)), 0.2)
		}
	}

	_, err = g.Generate(rand.NewPCG(21, 0), 100, 10)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}
