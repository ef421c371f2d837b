package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/cosrepo/cmd/cosrepo/commands"
	"github.com/systmms/cosrepo/internal/config"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Environment supplies flag defaults
	rt, err := config.LoadRuntime()
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{Logger: logging.New(rt.Debug, rt.NoColor)}

	rootCmd := &cobra.Command{
		Use:   "cosrepo",
		Short: "Resolve and cache COS snapshot repository clients",
		Long: `cosrepo layers client profiles, repository overrides and account secrets
into the settings each COS snapshot repository connects with, and keeps one
shared client per distinct configuration.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", rt.ConfigPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", rt.NoColor, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", rt.Debug, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewClientsCommand(cfg),
		commands.NewResolveCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewSecretsCommand(cfg),
		commands.NewServeCommand(cfg, rt.MetricsAddr),
	)

	return rootCmd.Execute()
}
