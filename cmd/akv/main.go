package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/akv/cmd/akv/commands"
	"github.com/systmms/akv/internal/config"
	"github.com/systmms/akv/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}
	app := commands.NewApp(cfg)

	rootCmd := &cobra.Command{
		Use:   "akv",
		Short: "Azure Key Vault secrets client",
		Long: `akv reads, lists and writes Azure Key Vault secrets, caching values
locally so repeated reads do not reach the vault.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			cfg.Logger = logging.New(debug, noColor)
			cfg.Path = configFile
			cfg.Optional = !cmd.Flags().Changed("config")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.ReportMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewGetCommand(app),
		commands.NewVersionsCommand(app),
		commands.NewListCommand(app),
		commands.NewSetCommand(app),
		commands.NewTokenCommand(app),
		commands.NewCacheCommand(app),
	)

	return rootCmd.Execute()
}
