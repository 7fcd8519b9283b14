package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coastalcabana/gptbatch/pkg/config"
)

var version = "dev"

// Flags shared by every subcommand.
var (
	configPath string
	envFile    string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:          "gptbatch",
		Short:        "Run chat-completion batches with retries and cost tracking",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gptbatch config file (default: built-in defaults)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "human-readable debug logging")

	root.AddCommand(
		newRunCmd(),
		newPricesCmd(),
		newCostCmd(),
		newStatsCmd(),
		newCacheCmd(),
		newBudgetCmd(),
		newRenderCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file, then the config file if one was given.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
