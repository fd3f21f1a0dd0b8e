package config

import (
	"github.com/spf13/pflag"
)

// Overrides are command-line values that win over the file and the environment
type Overrides struct {
	Iterations int
	Seed       uint64
	Workers    int
	OutputDir  string
	Linkage    string
	NoPlots    bool
}

// Register adds the override flags to fs
func (o *Overrides) Register(fs *pflag.FlagSet) {
	fs.IntVar(&o.Iterations, "iterations", 0, "Monte Carlo iterations (overrides config)")
	fs.Uint64Var(&o.Seed, "seed", 0, "Random seed (overrides config)")
	fs.IntVar(&o.Workers, "workers", 0, "Parallel iterations (overrides config)")
	fs.StringVar(&o.OutputDir, "output", "", "Artifact directory (overrides config)")
	fs.StringVar(&o.Linkage, "linkage", "", "HRP linkage: single, complete, average, ward")
	fs.BoolVar(&o.NoPlots, "no-plots", false, "Skip weight charts")
}

// Apply copies every flag the user actually set onto cfg
func (o *Overrides) Apply(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("iterations") {
		cfg.Simulation.Iterations = o.Iterations
	}
	if fs.Changed("seed") {
		cfg.Simulation.Seed = o.Seed
	}
	if fs.Changed("workers") {
		cfg.Simulation.Workers = o.Workers
	}
	if fs.Changed("output") {
		cfg.Output.Dir = o.OutputDir
	}
	if fs.Changed("linkage") {
		SetLinkage(cfg, o.Linkage)
	}
	if fs.Changed("no-plots") {
		plots := !o.NoPlots
		cfg.Output.Plots = &plots
	}
}
