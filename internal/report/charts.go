package report

import (
	"errors"
	"fmt"
	"strconv"

	charts "github.com/vicanso/go-charts/v2"
)

// ErrNoData is returned when there is nothing to plot
var ErrNoData = errors.New("no weights to plot")

// RenderWeights draws the mean weight of every asset across rebalancing
// points as a PNG. Steps no iteration recorded carry the previous mean forward.
func RenderWeights(s *AllocatorSummary, assetNames []string) ([]byte, error) {
	labels := make([]string, 0, len(s.Steps))
	var values [][]float64
	for _, st := range s.Steps {
		if st.Mean == nil && len(values) == 0 {
			continue
		}
		if values == nil {
			values = make([][]float64, len(st.Mean))
		}
		labels = append(labels, strconv.Itoa(st.Step))
		for i := range values {
			v := 0.0
			switch {
			case st.Mean != nil:
				v = st.Mean[i]
			case len(values[i]) > 0:
				v = values[i][len(values[i])-1]
			}
			values[i] = append(values[i], v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", s.Allocator, ErrNoData)
	}

	names := make([]string, len(values))
	for i := range names {
		if i < len(assetNames) {
			names[i] = assetNames[i]
		} else {
			names[i] = "asset " + strconv.Itoa(i+1)
		}
	}

	split := len(labels) / 8
	if split < 1 {
		split = 1
	}

	p, err := charts.LineRender(
		values,
		charts.TitleTextOptionFunc(s.Allocator+" mean weights", fmt.Sprintf("%d rebalances, %d skips", s.Rebalances, s.Skips)),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: split,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: names,
			Top:  charts.PositionTop,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}
