package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/config"
	"github.com/jward/tracegraph/internal/eventlog"
)

var (
	flagFormat string
	flagConfig string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// stdout receives command results.
var stdout io.Writer = os.Stdout

// cfg and logger are set up by the root command before any subcommand runs.
var (
	cfg    = config.Default()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

var rootCmd = &cobra.Command{
	Use:           "tracegraph",
	Short:         "Record and query dynamic execution traces",
	Long:          "tracegraph ingests the data instrumented JavaScript runtimes emit, rebuilds their execution context trees and answers queries over contexts, traces and values.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		l, err := loaded.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (default: built-in settings)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(queryCmd)
}

// newEngine builds an in-memory engine from the loaded config. Event
// logs are only written by serve.
func newEngine() *tracegraph.Engine {
	return tracegraph.New(
		tracegraph.WithLogger(logger),
		tracegraph.WithBatchSize(cfg.Monitor.BatchSize),
	)
}

// loadLog replays path into a fresh engine. Rejected records are reported
// as warnings; the application keeps everything that applied cleanly.
func loadLog(path string) (*tracegraph.Engine, *tracegraph.Application, eventlog.Stats, error) {
	engine := newEngine()
	app, stats, err := engine.LoadLog(path)
	if err != nil {
		engine.Close()
		return nil, nil, stats, fmt.Errorf("loading %s: %w", path, err)
	}
	for _, e := range stats.Errors {
		logger.Warn("record rejected", "log", path, "error", e)
	}
	return engine, app, stats, nil
}
