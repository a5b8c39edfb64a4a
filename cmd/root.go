package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench"
)

var (
	configPath string // YAML config file, empty for defaults
	logLevel   string // Log verbosity level
	seed       int64  // Master seed for request generation and random routing
	policy     string // Routing policy override
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "loadbench",
	Short: "Load-balancing testbed: router, admission-controlled nodes and a statistics collector",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the flag overrides. Invalid
// configuration is fatal.
func loadConfig(cmd *cobra.Command) *bench.Config {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return cfg
}

// resolveConfig loads the config file, applies every flag override the
// command defines and validates the result.
func resolveConfig(cmd *cobra.Command) (*bench.Config, error) {
	cfg, err := bench.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if policy != "" {
		cfg.Policy = policy
	}
	applyClientFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Seed for request generation and random routing")
	rootCmd.PersistentFlags().StringVar(&policy, "policy", "", "Routing policy override (random, round-robin, least-loaded)")

	rootCmd.AddCommand(runCmd, nodeCmd, collectorCmd, clientsCmd, statusCmd)
}
