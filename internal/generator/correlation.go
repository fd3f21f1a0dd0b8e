package generator

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kushal-sa/HRP/internal/covariance"
)

// CorrelationKind labels a correlation regime
type CorrelationKind string

const (
	CorrelationDiagonal   CorrelationKind = "diagonal"
	CorrelationCorrelated CorrelationKind = "correlated"
	CorrelationGroups     CorrelationKind = "groups"
)

// Correlation describes how a correlation matrix is sampled for each draw.
// Pairwise values are uniform in the configured range; the sampled matrix is
// repaired to the nearest positive definite correlation matrix.
type Correlation struct {
	Kind        CorrelationKind `yaml:"kind" json:"kind"`
	Range       [2]float64      `yaml:"range" json:"range"`               // correlated: every pair
	Groups      []int           `yaml:"groups" json:"groups"`             // groups: consecutive group sizes
	GroupRanges [][2]float64    `yaml:"group_ranges" json:"group_ranges"` // groups: within-group range, zero across
}

// Diagonal is the uncorrelated regime
func Diagonal() Correlation {
	return Correlation{Kind: CorrelationDiagonal}
}

// Correlated draws every pairwise correlation from [lo,hi]
func Correlated(lo, hi float64) Correlation {
	return Correlation{Kind: CorrelationCorrelated, Range: [2]float64{lo, hi}}
}

// Groups correlates assets only within consecutive blocks of the given sizes
func Groups(sizes []int, ranges [][2]float64) Correlation {
	return Correlation{Kind: CorrelationGroups, Groups: sizes, GroupRanges: ranges}
}

// Validate checks the description against an asset count
func (c Correlation) Validate(assets int) error {
	checkRange := func(r [2]float64) error {
		if r[0] > r[1] || r[0] < -1 || r[1] > 1 {
			return fmt.Errorf("%w: correlation range [%g,%g]", ErrInvalidParameters, r[0], r[1])
		}
		return nil
	}

	switch c.Kind {
	case "", CorrelationDiagonal:
		return nil
	case CorrelationCorrelated:
		return checkRange(c.Range)
	case CorrelationGroups:
		if len(c.Groups) != len(c.GroupRanges) {
			return fmt.Errorf("%w: %d groups with %d ranges", ErrInvalidParameters, len(c.Groups), len(c.GroupRanges))
		}
		total := 0
		for i, g := range c.Groups {
			if g <= 0 {
				return fmt.Errorf("%w: group %d has size %d", ErrInvalidParameters, i, g)
			}
			if err := checkRange(c.GroupRanges[i]); err != nil {
				return err
			}
			total += g
		}
		if total != assets {
			return fmt.Errorf("%w: groups cover %d assets, want %d", ErrInvalidParameters, total, assets)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown correlation kind %q", ErrInvalidParameters, c.Kind)
	}
}

// Sample draws one correlation matrix for the given number of assets
func (c Correlation) Sample(src rand.Source, assets int) (*mat.SymDense, error) {
	if err := c.Validate(assets); err != nil {
		return nil, err
	}

	corr := mat.NewSymDense(assets, nil)
	for i := 0; i < assets; i++ {
		corr.SetSym(i, i, 1)
	}

	switch c.Kind {
	case CorrelationCorrelated:
		fillBlock(corr, 0, assets, c.Range, src)
	case CorrelationGroups:
		start := 0
		for g, size := range c.Groups {
			fillBlock(corr, start, start+size, c.GroupRanges[g], src)
			start += size
		}
	default:
		return corr, nil
	}

	return covariance.NearestCorrelation(corr)
}

func fillBlock(corr *mat.SymDense, lo, hi int, r [2]float64, src rand.Source) {
	u := distuv.Uniform{Min: r[0], Max: r[1], Src: src}
	for i := lo; i < hi; i++ {
		for j := i + 1; j < hi; j++ {
			v := r[0]
			if r[1] > r[0] {
				v = u.Rand()
			}
			corr.SetSym(i, j, v)
		}
	}
}
