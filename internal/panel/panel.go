package panel

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when a panel or window request does not fit the data
var ErrShape = errors.New("panel shape mismatch")

// Panel is an immutable time × asset matrix of per-step returns.
// Row t holds the returns of every asset at step t.
type Panel struct {
	data *mat.Dense
}

// New builds a panel from row-major data. The slice is copied.
func New(horizon, assets int, data []float64) (*Panel, error) {
	if horizon <= 0 || assets <= 0 {
		return nil, fmt.Errorf("%w: horizon=%d assets=%d", ErrShape, horizon, assets)
	}
	if len(data) != horizon*assets {
		return nil, fmt.Errorf("%w: got %d values for %dx%d", ErrShape, len(data), horizon, assets)
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return &Panel{data: mat.NewDense(horizon, assets, buf)}, nil
}

// FromDense wraps a copy of m
func FromDense(m mat.Matrix) *Panel {
	return &Panel{data: mat.DenseCopyOf(m)}
}

// FromRows builds a panel from a slice of equally sized rows
func FromRows(rows [][]float64) (*Panel, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	assets := len(rows[0])
	data := make([]float64, 0, len(rows)*assets)
	for t, r := range rows {
		if len(r) != assets {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, t, len(r), assets)
		}
		data = append(data, r...)
	}
	return New(len(rows), assets, data)
}

// Horizon returns the number of time steps
func (p *Panel) Horizon() int {
	r, _ := p.data.Dims()
	return r
}

// Assets returns the number of assets
func (p *Panel) Assets() int {
	_, c := p.data.Dims()
	return c
}

// At returns the return of asset i at step t
func (p *Panel) At(t, i int) float64 {
	return p.data.At(t, i)
}

// Row returns a copy of the returns at step t
func (p *Panel) Row(t int) []float64 {
	return mat.Row(nil, t, p.data)
}

// Window returns the read-only trailing window of the given length ending
// before step end, i.e. rows [end-length, end).
func (p *Panel) Window(end, length int) (mat.Matrix, error) {
	if length <= 0 || end > p.Horizon() || end-length < 0 {
		return nil, fmt.Errorf("%w: window [%d,%d) outside horizon %d", ErrShape, end-length, end, p.Horizon())
	}
	return p.data.Slice(end-length, end, 0, p.Assets()), nil
}

// Matrix exposes the panel as a read-only matrix
func (p *Panel) Matrix() mat.Matrix {
	return p.data
}

// Concat stacks panels with the same asset count along the time axis
func Concat(parts ...*Panel) (*Panel, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	assets := parts[0].Assets()
	total := 0
	for i, p := range parts {
		if p.Assets() != assets {
			return nil, fmt.Errorf("%w: part %d has %d assets, want %d", ErrShape, i, p.Assets(), assets)
		}
		total += p.Horizon()
	}
	out := mat.NewDense(total, assets, nil)
	offset := 0
	for _, p := range parts {
		h := p.Horizon()
		out.Slice(offset, offset+h, 0, assets).(*mat.Dense).Copy(p.data)
		offset += h
	}
	return &Panel{data: out}, nil
}
