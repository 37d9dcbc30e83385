// Command dig runs the distributed image-generation dispatch service: a
// persistent task queue that brokers prompts to GPU workers and stores the
// images they return.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KohakuBlueleaf/DIG/internal/config"
	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/storage/sqlite"
	"github.com/KohakuBlueleaf/DIG/internal/telemetry"
)

var (
	// Set via -ldflags at release time.
	version = "0.1.0"

	flagConfig  string
	flagDB      string
	flagJSON    bool
	flagVerbose bool
	flagQuiet   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "dig",
	Short:   "Image-generation task dispatch service",
	Long:    "dig brokers image-generation work between requestors and GPU workers:\nprompts go in over HTTP, workers claim them, WebP artifacts come back out.",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		if flagQuiet {
			level = slog.LevelError
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./dig.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "task database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
}

// loadConfig applies flag overrides on top of env/file configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg, nil
}

// openStore opens the task database and wraps it with telemetry when enabled.
func openStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task database %s: %w", cfg.DBPath, err)
	}
	return telemetry.WrapStorage(store), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
