package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	applog "github.com/kushal-sa/HRP/internal/log"
)

const (
	appName = "hrpsim"
	version = "v0.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Monte Carlo comparison of HRP, IVP and CLA portfolio allocators",
		Version: version,
		Long: `hrpsim draws synthetic multi-asset return histories, rebalances each allocator
on a rolling covariance window, and writes weight trajectories, realized returns
and summary statistics for every Monte Carlo iteration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applog.Setup(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScenariosCmd())
	rootCmd.AddCommand(newValidateCmd())
	return rootCmd
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printScenarios(cmd.OutOrStdout())
		},
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario configuration without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, "")
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d iterations, %d rebalances each, %d allocators)\n",
				cfg.Scenario, cfg.Simulation.Iterations, len(cfg.Simulation.RebalancePoints()), len(cfg.Allocators))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
