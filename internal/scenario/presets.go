package scenario

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/config"
	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/generator"
	"github.com/kushal-sa/HRP/internal/simulation"
)

// ErrUnknownScenario is returned for a preset name that does not exist
var ErrUnknownScenario = errors.New("unknown scenario")

// Preset is a named, ready-to-run configuration
type Preset struct {
	Name        string
	Description string
	build       func() *config.Config
}

// Config returns a fresh copy of the preset's configuration
func (p Preset) Config() *config.Config {
	cfg := p.build()
	cfg.Scenario = p.Name
	return cfg
}

const (
	presetAssets = 10
	presetSigma  = 0.01
	presetWindow = 260
	presetRebal  = 22
)

var presets = map[string]Preset{
	"downturn": {
		Name:        "downturn",
		Description: "Uncorrelated Gaussian, then a correlated high-volatility downturn, then recovery",
		build:       downturn,
	},
	"skewnorm": {
		Name:        "skewnorm",
		Description: "Right-skewed returns with one tightly and one loosely correlated group",
		build:       skewNormal,
	},
	"student_t": {
		Name:        "student_t",
		Description: "Fat-tailed Student-t returns with one tightly and one loosely correlated group",
		build:       studentT,
	},
	"lopez": {
		Name:        "lopez",
		Description: "López de Prado's HRP replication: noisy copies plus injected shocks",
		build:       lopez,
	},
}

// Presets returns every preset sorted by name
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the configuration of a named preset
func Lookup(name string) (*config.Config, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return p.Config(), nil
}

// base runs 14 monthly rebalances after a one-year window
func base() *config.Config {
	return &config.Config{
		Simulation: simulation.Config{
			Horizon:     presetWindow + presetRebal*14,
			Window:      presetWindow,
			RebalPeriod: presetRebal,
			Iterations:  100,
			Assets:      presetAssets,
			Workers:     1,
		},
		Estimator:  covariance.DefaultConfig(),
		Allocators: config.DefaultAllocators(string(allocator.LinkageSingle)),
		Output:     config.OutputConfig{Dir: "./artifacts/hrpsim"},
	}
}

func downturn() *config.Config {
	cfg := base()
	calm := config.GeneratorSpec{
		Type:        config.GeneratorGaussian,
		Sigma:       []float64{presetSigma},
		Mean:        []float64{0},
		Correlation: generator.Diagonal(),
	}
	stressed := config.GeneratorSpec{
		Type:        config.GeneratorGaussian,
		Sigma:       []float64{presetSigma * 2},
		Mean:        []float64{0},
		Correlation: generator.Correlated(0.6, 0.9),
	}
	cfg.Generator = config.GeneratorSpec{
		Type: config.GeneratorDynamic,
		Segments: []config.SegmentSpec{
			{Length: 282, Generator: calm},
			{Length: 132, Generator: stressed},
			{Length: 146, Generator: calm},
		},
	}
	return cfg
}

// twoGroups splits the assets into a tightly and a loosely correlated half
func twoGroups() generator.Correlation {
	half := presetAssets / 2
	return generator.Groups([]int{half, presetAssets - half}, [][2]float64{{0.8, 1.0}, {0.2, 0.4}})
}

func skewNormal() *config.Config {
	cfg := base()
	cfg.Generator = config.GeneratorSpec{
		Type:        config.GeneratorSkewNormal,
		Sigma:       []float64{presetSigma},
		Mean:        []float64{0},
		Shape:       []float64{4},
		Correlation: twoGroups(),
	}
	return cfg
}

func studentT() *config.Config {
	cfg := base()
	cfg.Generator = config.GeneratorSpec{
		Type:        config.GeneratorStudentT,
		Sigma:       []float64{presetSigma},
		Mean:        []float64{0},
		DF:          []float64{4},
		Correlation: twoGroups(),
	}
	return cfg
}

func lopez() *config.Config {
	cfg := base()
	cfg.Simulation.Horizon = presetWindow + presetRebal*12
	cfg.Generator = config.GeneratorSpec{
		Type:       config.GeneratorLopez,
		ShockStart: presetWindow,
		Size0:      5,
		Size1:      5,
		Mu0:        0,
		Sigma0:     0.01,
		Sigma1F:    0.25,
	}
	return cfg
}
