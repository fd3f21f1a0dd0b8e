package generator

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kushal-sa/HRP/internal/panel"
)

// Bootstrap is a stationary block bootstrap over the rows of a historical
// panel. Blocks wrap around the end of the source and have geometrically
// distributed lengths with mean BlockLength, keeping cross-sectional
// dependence and short-range autocorrelation.
type Bootstrap struct {
	Source      *panel.Panel
	BlockLength int
}

// NewBootstrap creates a stationary bootstrap over source. Mean block lengths below 1 mean 1.
func NewBootstrap(source *panel.Panel, blockLength int) *Bootstrap {
	if blockLength < 1 {
		blockLength = 1
	}
	return &Bootstrap{Source: source, BlockLength: blockLength}
}

func (g *Bootstrap) Name() string { return "bootstrap" }

func (g *Bootstrap) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if g.Source == nil {
		return nil, fmt.Errorf("%w: bootstrap has no source panel", ErrInvalidParameters)
	}
	if g.Source.Assets() != assets {
		return nil, fmt.Errorf("%w: source has %d assets, want %d", ErrInvalidParameters, g.Source.Assets(), assets)
	}

	rng := rand.New(src)
	n := g.Source.Horizon()
	restart := 1 / float64(max(g.BlockLength, 1))
	data := make([]float64, 0, horizon*assets)
	row := rng.IntN(n)
	for t := 0; t < horizon; t++ {
		if t > 0 {
			if rng.Float64() < restart {
				row = rng.IntN(n)
			} else {
				row = (row + 1) % n
			}
		}
		data = append(data, g.Source.Row(row)...)
	}
	return panel.New(horizon, assets, data)
}

// Lopez reproduces the data of López de Prado's HRP experiment: size0
// uncorrelated normal series, size1 noisy copies of randomly chosen ones, and
// common plus idiosyncratic shocks injected after ShockStart.
type Lopez struct {
	ShockStart int
	Size0      int
	Size1      int
	Mu0        float64
	Sigma0     float64
	Sigma1F    float64
}

// NewLopez creates the replication generator
func NewLopez(shockStart, size0, size1 int, mu0, sigma0, sigma1F float64) *Lopez {
	return &Lopez{ShockStart: shockStart, Size0: size0, Size1: size1, Mu0: mu0, Sigma0: sigma0, Sigma1F: sigma1F}
}

func (g *Lopez) Name() string { return "lopez" }

func (g *Lopez) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if g.Size0 <= 0 || g.Size1 <= 0 || g.Size0+g.Size1 != assets {
		return nil, fmt.Errorf("%w: sizes %d+%d for %d assets", ErrInvalidParameters, g.Size0, g.Size1, assets)
	}
	if g.ShockStart < 0 || g.ShockStart >= horizon-1 {
		return nil, fmt.Errorf("%w: shock start %d outside horizon %d", ErrInvalidParameters, g.ShockStart, horizon)
	}
	if g.Sigma0 <= 0 || g.Sigma1F <= 0 {
		return nil, fmt.Errorf("%w: sigma0=%g sigma1F=%g", ErrInvalidParameters, g.Sigma0, g.Sigma1F)
	}

	rng := rand.New(src)
	base := distuv.Normal{Mu: g.Mu0, Sigma: g.Sigma0, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: g.Sigma0 * g.Sigma1F, Src: src}

	x := make([]float64, horizon*assets)
	for t := 0; t < horizon; t++ {
		for i := 0; i < g.Size0; i++ {
			x[t*assets+i] = base.Rand()
		}
	}

	cols := make([]int, g.Size1)
	for k := range cols {
		cols[k] = rng.IntN(g.Size0)
	}
	for t := 0; t < horizon; t++ {
		for k, c := range cols {
			x[t*assets+g.Size0+k] = x[t*assets+c] + noise.Rand()
		}
	}

	shock := func() int { return g.ShockStart + rng.IntN(horizon-1-g.ShockStart) }

	// common shock hitting an original series and the first copy
	p0, p1 := shock(), shock()
	x[p0*assets+cols[0]], x[p0*assets+g.Size0] = -0.5, -0.5
	x[p1*assets+cols[0]], x[p1*assets+g.Size0] = 2, 2

	// idiosyncratic shock
	p0, p1 = shock(), shock()
	last := cols[len(cols)-1]
	x[p0*assets+last] = -0.5
	x[p1*assets+last] = 2

	return panel.New(horizon, assets, x)
}
