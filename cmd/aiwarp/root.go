package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "aiwarp",
	Short: "Ask language models through an ordered fallback list",
	Long: `aiwarp routes one prompt across a ranked list of provider:model
candidates and returns the first answer that succeeds.

Providers, default candidates, timeouts and circuit breaking are read
from a YAML config file. ${VAR} references in the file are expanded
from the environment.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code := aiwarp.CodeOf(err); code != "" {
			fmt.Fprintln(os.Stderr, "Code:", code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "aiwarp.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// loadRouter reads the config file and builds the router and its logger
func loadRouter() (*aiwarp.Router, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger := config.NewLogger(cfg.Logging, os.Stderr)

	router, err := cfg.Build(config.BuildOptions{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return router, logger, nil
}
