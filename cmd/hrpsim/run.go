package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kushal-sa/HRP/internal/config"
	applog "github.com/kushal-sa/HRP/internal/log"
	"github.com/kushal-sa/HRP/internal/metrics"
	"github.com/kushal-sa/HRP/internal/report"
	"github.com/kushal-sa/HRP/internal/scenario"
	"github.com/kushal-sa/HRP/internal/simulation"
)

type runOptions struct {
	scenario    string
	configPath  string
	metricsAddr string
	overrides   config.Overrides
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Monte Carlo scenario",
		Long: `Run a built-in scenario (--scenario) or a YAML scenario file (--config).
Flags override HRPSIM_* environment variables, which override the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scenario, "scenario", "downturn", "Built-in scenario name (see 'hrpsim scenarios')")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Scenario YAML file (takes precedence over --scenario)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	opts.overrides.Register(cmd.Flags())
	return cmd
}

// loadConfig resolves a file or preset, then environment and defaults
func loadConfig(path, preset string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := scenario.Lookup(preset)
	if err != nil {
		return nil, err
	}
	config.Prepare(cfg)
	return cfg, nil
}

func runScenario(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(opts.configPath, opts.scenario)
	if err != nil {
		return err
	}
	opts.overrides.Apply(cfg, cmd.Flags())

	comp, err := scenario.Build(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	if opts.metricsAddr != "" {
		srv, err := metrics.NewServer(opts.metricsAddr, registry)
		if err != nil {
			return err
		}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	sim, err := simulation.NewSimulator(cfg.Simulation, comp.Generator, comp.Allocators,
		simulation.WithEstimator(comp.Estimator),
		simulation.WithMetrics(registry),
		simulation.WithProgress(applog.NewProgress("iterations", cfg.Simulation.Iterations, 5*time.Second)),
	)
	if err != nil {
		return err
	}

	log.Info().Str("scenario", cfg.Scenario).Str("generator", comp.Generator.Name()).Msg("Running scenario")
	result, err := sim.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if err != nil {
		return err
	}

	summary := report.Summarize(result)

	writer := report.NewWriter(cfg.Output.Dir)
	writer.SetPlots(cfg.Output.PlotsEnabled())
	writer.SetAssetNames(comp.AssetNames)
	manifest, err := writer.Write(report.Manifest{
		Scenario:  cfg.Scenario,
		Generator: comp.Generator.Name(),
		Config:    cfg,
		Metrics:   registry.Snapshot(),
	}, result, summary)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	fmt.Fprintf(cmd.OutOrStdout(), "\nArtifacts: %s (run %s)\n", writer.OutputDir(), manifest.RunID)
	return nil
}

func printSummary(w io.Writer, s *report.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALLOCATOR\tREBALANCES\tSKIPS\tHALTS\tMEAN\tSTD\tSHARPE\tMAX DD\tOOS VAR")
	for _, a := range s.Allocators {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6f\t%.6f\t%.3f\t%.4f\t%.3e\n",
			a.Allocator, a.Rebalances, a.Skips, a.Halts,
			a.Realized.Mean, a.Realized.Std, a.Realized.Sharpe, a.Realized.MaxDrawdown, a.OOSVariance)
	}
	tw.Flush()
}

func printScenarios(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tASSETS\tHORIZON\tDESCRIPTION")
	for _, p := range scenario.Presets() {
		cfg := p.Config()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.Name, cfg.Simulation.Assets, cfg.Simulation.Horizon, p.Description)
	}
	return tw.Flush()
}
