package scenario

import (
	"fmt"

	"github.com/kushal-sa/HRP/internal/allocator"
	"github.com/kushal-sa/HRP/internal/config"
	"github.com/kushal-sa/HRP/internal/covariance"
	"github.com/kushal-sa/HRP/internal/generator"
	"github.com/kushal-sa/HRP/internal/panel"
)

// Components are the runtime objects described by a configuration
type Components struct {
	Generator  generator.Generator
	Allocators []allocator.Allocator
	Estimator  *covariance.Estimator
	AssetNames []string // from a bootstrap source header, if any
}

// Build validates cfg and constructs its generator, allocators and estimator
func Build(cfg *config.Config) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gen, names, err := BuildGenerator(cfg.Generator, cfg.Simulation.Assets)
	if err != nil {
		return nil, fmt.Errorf("failed to build generator: %w", err)
	}

	allocators, err := BuildAllocators(cfg.Allocators)
	if err != nil {
		return nil, fmt.Errorf("failed to build allocators: %w", err)
	}

	return &Components{
		Generator:  gen,
		Allocators: allocators,
		Estimator:  covariance.NewEstimator(cfg.Estimator),
		AssetNames: names,
	}, nil
}

// BuildAllocators constructs allocators in configuration order
func BuildAllocators(specs []config.AllocatorSpec) ([]allocator.Allocator, error) {
	out := make([]allocator.Allocator, 0, len(specs))
	for _, spec := range specs {
		switch spec.Type {
		case config.AllocatorHRP:
			linkage, err := allocator.ParseLinkage(spec.Linkage)
			if err != nil {
				return nil, err
			}
			hrp, err := allocator.NewHRP(linkage)
			if err != nil {
				return nil, err
			}
			out = append(out, hrp)
		case config.AllocatorIVP:
			out = append(out, allocator.NewIVP())
		case config.AllocatorCLA:
			cla, err := allocator.NewCLA(spec.CLAConfig)
			if err != nil {
				return nil, err
			}
			out = append(out, cla)
		default:
			return nil, fmt.Errorf("unknown allocator type %q", spec.Type)
		}
	}
	return out, nil
}

// BuildGenerator constructs the generator tree of spec for a fixed asset count
func BuildGenerator(spec config.GeneratorSpec, assets int) (generator.Generator, []string, error) {
	moments := func() generator.Moments {
		mean := spec.Mean
		if len(mean) == 0 {
			mean = []float64{0}
		}
		return generator.Moments{Sigma: broadcast(spec.Sigma, assets), Mean: broadcast(mean, assets)}
	}

	switch spec.Type {
	case config.GeneratorGaussian:
		return generator.NewGaussian(moments(), spec.Correlation), nil, nil
	case config.GeneratorStudentT:
		return generator.NewStudentT(broadcast(spec.DF, assets), moments(), spec.Correlation), nil, nil
	case config.GeneratorSkewNormal:
		return generator.NewSkewNormal(broadcast(spec.Shape, assets), moments(), spec.Correlation), nil, nil
	case config.GeneratorDynamic:
		segments := make([]generator.Segment, 0, len(spec.Segments))
		for i, seg := range spec.Segments {
			g, _, err := BuildGenerator(seg.Generator, assets)
			if err != nil {
				return nil, nil, fmt.Errorf("segment %d: %w", i, err)
			}
			segments = append(segments, generator.Segment{Length: seg.Length, Generator: g})
		}
		return generator.NewDynamic(segments...), nil, nil
	case config.GeneratorBootstrap:
		source, names, err := panel.LoadCSV(spec.Source)
		if err != nil {
			return nil, nil, err
		}
		return generator.NewBootstrap(source, spec.BlockLength), names, nil
	case config.GeneratorLopez:
		return generator.NewLopez(spec.ShockStart, spec.Size0, spec.Size1, spec.Mu0, spec.Sigma0, spec.Sigma1F), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown generator type %q", generator.ErrInvalidParameters, spec.Type)
	}
}

// broadcast repeats a single value across n assets
func broadcast(v []float64, n int) []float64 {
	if len(v) != 1 {
		return v
	}
	return generator.Constant(n, v[0])
}
