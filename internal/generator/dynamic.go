package generator

import (
	"fmt"
	"math/rand/v2"

	"github.com/kushal-sa/HRP/internal/panel"
)

// Segment is one regime of a Dynamic generator
type Segment struct {
	Length    int
	Generator Generator
}

// Dynamic switches generators at fixed breakpoints within one draw. Segments
// are drawn in order; the last one stretches or is cut to fill the horizon.
type Dynamic struct {
	Segments []Segment
}

// NewDynamic creates a regime-switching generator
func NewDynamic(segments ...Segment) *Dynamic {
	return &Dynamic{Segments: segments}
}

func (g *Dynamic) Name() string { return "dynamic" }

// Breakpoints returns the steps at which a new segment starts for a horizon
func (g *Dynamic) Breakpoints(horizon int) []int {
	var out []int
	start := 0
	for k, seg := range g.Segments {
		length := g.segmentLength(k, seg, horizon-start)
		if length == 0 {
			break
		}
		if k > 0 {
			out = append(out, start)
		}
		start += length
	}
	return out
}

func (g *Dynamic) segmentLength(k int, seg Segment, remaining int) int {
	if remaining <= 0 {
		return 0
	}
	if k == len(g.Segments)-1 {
		return remaining
	}
	return min(seg.Length, remaining)
}

func (g *Dynamic) Generate(src rand.Source, horizon, assets int) (*panel.Panel, error) {
	if err := checkShape(horizon, assets); err != nil {
		return nil, err
	}
	if len(g.Segments) == 0 {
		return nil, fmt.Errorf("%w: dynamic generator has no segments", ErrInvalidParameters)
	}

	parts := make([]*panel.Panel, 0, len(g.Segments))
	remaining := horizon
	for k, seg := range g.Segments {
		if seg.Length <= 0 && k < len(g.Segments)-1 {
			return nil, fmt.Errorf("%w: segment %d has length %d", ErrInvalidParameters, k, seg.Length)
		}
		length := g.segmentLength(k, seg, remaining)
		if length == 0 {
			break
		}
		p, err := seg.Generator.Generate(src, length, assets)
		if err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w", k, seg.Generator.Name(), err)
		}
		parts = append(parts, p)
		remaining -= length
	}
	return panel.Concat(parts...)
}
