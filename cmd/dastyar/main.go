// Package main is the entry point of the dastyar admin server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// configPath is set by the --config flag. Empty means defaults plus
// environment overrides.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dastyar",
	Short: "Dastyar is the admin backend for clients, orders and invoices",
	// Running the bare command serves.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	observability.Version = version
	observability.Commit = commit

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(operatorCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dastyar %s (%s)\n", version, commit)
	},
}

// loadConfig reads the --config file, or the defaults with environment
// overrides when no file is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.FromEnv()
	}
	return config.Load(configPath)
}
