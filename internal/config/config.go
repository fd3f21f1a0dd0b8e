package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/generator"
	"github.com/kushal-sa/HRP/internal/simulation"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Allocator and generator type names accepted in scenario files
const (
	AllocatorHRP = "hrp"
	AllocatorIVP = "ivp"
	AllocatorCLA = "cla"

	GeneratorGaussian   = "gaussian"
	GeneratorStudentT   = "student_t"
	GeneratorSkewNormal = "skew_normal"
	GeneratorDynamic    = "dynamic"
	GeneratorBootstrap  = "bootstrap"
	GeneratorLopez      = "lopez"
)

// Config is a complete scenario: what to draw, how to allocate, where to write
type Config struct {
	Scenario   string            `yaml:"scenario" json:"scenario"`
	Simulation simulation.Config `yaml:"simulation" json:"simulation"`
	Estimator  covariance.Config `yaml:"estimator" json:"estimator"`
	Allocators []AllocatorSpec   `yaml:"allocators" json:"allocators"`
	Generator  GeneratorSpec     `yaml:"generator" json:"generator"`
	Output     OutputConfig      `yaml:"output" json:"output"`
}

// AllocatorSpec configures one allocator. Linkage applies to hrp; CLA
// embeds its bounds and reported point.
type AllocatorSpec struct {
	Type    string `yaml:"type" json:"type"`
	Linkage string `yaml:"linkage,omitempty" json:"linkage,omitempty"`

	allocator.CLAConfig `yaml:",inline"`
}

// GeneratorSpec configures a return generator. Vectors of length one are
// broadcast to every asset.
type GeneratorSpec struct {
	Type        string                `yaml:"type" json:"type"`
	Sigma       []float64             `yaml:"sigma,omitempty" json:"sigma,omitempty"`
	Mean        []float64             `yaml:"mean,omitempty" json:"mean,omitempty"`
	Correlation generator.Correlation `yaml:"correlation,omitempty" json:"correlation,omitempty"`
	DF          []float64             `yaml:"df,omitempty" json:"df,omitempty"`
	Shape       []float64             `yaml:"shape,omitempty" json:"shape,omitempty"`
	Segments    []SegmentSpec         `yaml:"segments,omitempty" json:"segments,omitempty"`

	// bootstrap
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	BlockLength int    `yaml:"block_length,omitempty" json:"block_length,omitempty"`

	// lopez
	ShockStart int     `yaml:"shock_start,omitempty" json:"shock_start,omitempty"`
	Size0      int     `yaml:"size0,omitempty" json:"size0,omitempty"`
	Size1      int     `yaml:"size1,omitempty" json:"size1,omitempty"`
	Mu0        float64 `yaml:"mu0,omitempty" json:"mu0,omitempty"`
	Sigma0     float64 `yaml:"sigma0,omitempty" json:"sigma0,omitempty"`
	Sigma1F    float64 `yaml:"sigma1f,omitempty" json:"sigma1f,omitempty"`
}

// SegmentSpec is one regime of a dynamic generator
type SegmentSpec struct {
	Length    int           `yaml:"length" json:"length"`
	Generator GeneratorSpec `yaml:"generator" json:"generator"`
}

// OutputConfig controls artifact writing
type OutputConfig struct {
	Dir   string `yaml:"dir" json:"dir"`
	Plots *bool  `yaml:"plots,omitempty" json:"plots,omitempty"`
}

// PlotsEnabled defaults to true
func (o OutputConfig) PlotsEnabled() bool {
	return o.Plots == nil || *o.Plots
}

// Default returns the three core allocators on a correlated Gaussian panel
func Default() *Config {
	cfg := &Config{
		Scenario:   "default",
		Simulation: simulation.DefaultConfig(),
		Estimator:  covariance.DefaultConfig(),
		Allocators: DefaultAllocators(string(allocator.LinkageSingle)),
		Generator: GeneratorSpec{
			Type:        GeneratorGaussian,
			Sigma:       []float64{0.01},
			Mean:        []float64{0},
			Correlation: generator.Correlated(0.2, 0.4),
		},
		Output: OutputConfig{Dir: "./artifacts/hrpsim"},
	}
	return cfg
}

// DefaultAllocators returns HRP with the given linkage, IVP and minimum-variance CLA
func DefaultAllocators(linkage string) []AllocatorSpec {
	return []AllocatorSpec{
		{Type: AllocatorHRP, Linkage: linkage},
		{Type: AllocatorIVP},
		{Type: AllocatorCLA, CLAConfig: allocator.DefaultCLAConfig()},
	}
}

// Load reads a YAML scenario file, then applies environment overrides and defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	Prepare(&cfg)
	return &cfg, nil
}

// Save writes the configuration as YAML
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Prepare applies environment overrides and fills unset fields with defaults
func Prepare(cfg *Config) {
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
}

// applyEnvOverrides applies HRPSIM_* environment variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HRPSIM_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Iterations = n
		}
	}

	if v := os.Getenv("HRPSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}

	if v := os.Getenv("HRPSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Workers = n
		}
	}

	if v := os.Getenv("HRPSIM_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}

	if v := os.Getenv("HRPSIM_LINKAGE"); v != "" {
		SetLinkage(cfg, v)
	}
}

// SetLinkage switches every HRP allocator to linkage
func SetLinkage(cfg *Config, linkage string) {
	for i := range cfg.Allocators {
		if strings.EqualFold(cfg.Allocators[i].Type, AllocatorHRP) {
			cfg.Allocators[i].Linkage = linkage
		}
	}
}

func applyDefaults(cfg *Config) {
	def := simulation.DefaultConfig()
	sim := &cfg.Simulation
	if sim.Horizon == 0 {
		sim.Horizon = def.Horizon
	}
	if sim.Window == 0 {
		sim.Window = def.Window
	}
	if sim.RebalPeriod == 0 {
		sim.RebalPeriod = def.RebalPeriod
	}
	if sim.Iterations == 0 {
		sim.Iterations = def.Iterations
	}
	if sim.Assets == 0 {
		sim.Assets = def.Assets
	}
	if sim.Workers == 0 {
		sim.Workers = def.Workers
	}

	est := covariance.DefaultConfig()
	if cfg.Estimator.Method == "" {
		cfg.Estimator.Method = est.Method
	}
	if cfg.Estimator.Decay == 0 {
		cfg.Estimator.Decay = est.Decay
	}
	if cfg.Estimator.MaxCondition == 0 {
		cfg.Estimator.MaxCondition = est.MaxCondition
	}

	if len(cfg.Allocators) == 0 {
		cfg.Allocators = DefaultAllocators(string(allocator.LinkageSingle))
	}
	for i := range cfg.Allocators {
		a := &cfg.Allocators[i]
		a.Type = strings.ToLower(a.Type)
		if a.Type == AllocatorHRP && a.Linkage == "" {
			a.Linkage = string(allocator.LinkageSingle)
		}
		if a.Type == AllocatorCLA {
			if a.Upper == 0 && len(a.UpperBounds) == 0 {
				a.Upper = 1
			}
			if a.Point == "" {
				a.Point = allocator.PointMinVariance
			}
		}
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./artifacts/hrpsim"
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Simulation.Workers < 1 {
		return fmt.Errorf("%w: workers %d must be positive", ErrInvalidConfig, c.Simulation.Workers)
	}
	if err := c.Estimator.Validate(); err != nil {
		return fmt.Errorf("%w: estimator: %v", ErrInvalidConfig, err)
	}

	if len(c.Allocators) == 0 {
		return fmt.Errorf("%w: no allocators", ErrInvalidConfig)
	}
	seen := map[string]bool{}
	for i, a := range c.Allocators {
		switch a.Type {
		case AllocatorHRP:
			if _, err := allocator.ParseLinkage(a.Linkage); err != nil {
				return fmt.Errorf("%w: allocator %d: %v", ErrInvalidConfig, i, err)
			}
		case AllocatorIVP:
		case AllocatorCLA:
			if _, err := allocator.NewCLA(a.CLAConfig); err != nil {
				return fmt.Errorf("%w: allocator %d: %v", ErrInvalidConfig, i, err)
			}
		default:
			return fmt.Errorf("%w: unknown allocator type %q", ErrInvalidConfig, a.Type)
		}
		if seen[a.Type] {
			return fmt.Errorf("%w: allocator %q listed twice", ErrInvalidConfig, a.Type)
		}
		seen[a.Type] = true
	}

	if err := c.Generator.validate(c.Simulation.Assets, 0); err != nil {
		return fmt.Errorf("%w: generator: %v", ErrInvalidConfig, err)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("%w: output dir is required", ErrInvalidConfig)
	}
	return nil
}

// maxNesting bounds dynamic generators inside dynamic generators
const maxNesting = 4

func (g GeneratorSpec) validate(assets, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("dynamic generators nested deeper than %d", maxNesting)
	}

	vector := func(name string, v []float64) error {
		if len(v) != 1 && len(v) != assets {
			return fmt.Errorf("%s has %d values, want 1 or %d", name, len(v), assets)
		}
		return nil
	}
	moments := func() error {
		if err := vector("sigma", g.Sigma); err != nil {
			return err
		}
		if len(g.Mean) > 0 {
			if err := vector("mean", g.Mean); err != nil {
				return err
			}
		}
		return g.Correlation.Validate(assets)
	}

	switch g.Type {
	case GeneratorGaussian:
		return moments()
	case GeneratorStudentT:
		if err := moments(); err != nil {
			return err
		}
		return vector("df", g.DF)
	case GeneratorSkewNormal:
		if err := moments(); err != nil {
			return err
		}
		return vector("shape", g.Shape)
	case GeneratorDynamic:
		if len(g.Segments) == 0 {
			return errors.New("dynamic generator has no segments")
		}
		for i, seg := range g.Segments {
			if seg.Length <= 0 && i < len(g.Segments)-1 {
				return fmt.Errorf("segment %d has length %d", i, seg.Length)
			}
			if err := seg.Generator.validate(assets, depth+1); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		}
		return nil
	case GeneratorBootstrap:
		if g.Source == "" {
			return errors.New("bootstrap generator needs a source csv")
		}
		return nil
	case GeneratorLopez:
		if g.Size0+g.Size1 != assets {
			return fmt.Errorf("lopez sizes %d+%d do not match %d assets", g.Size0, g.Size1, assets)
		}
		if g.Sigma0 <= 0 || g.Sigma1F <= 0 {
			return fmt.Errorf("lopez sigma0=%g sigma1f=%g must be positive", g.Sigma0, g.Sigma1F)
		}
		return nil
	default:
		return fmt.Errorf("unknown generator type %q", g.Type)
	}
}
