package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/medgraph"
	"github.com/brunobiangulo/medgraph/metrics"
)

// app carries state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfg     medgraph.Config
	metrics *metrics.Collector

	logFile       io.Closer
	traceShutdown func(context.Context) error
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New(), metrics: metrics.NewCollector("medgraph")}

	root := &cobra.Command{
		Use:          "medgraph",
		Short:        "Question answering over a medical knowledge graph",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML or JSON config file")
	pf.String("db", "", "SQLite graph database path")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("log-file", "", "write logs to a rotated file instead of stderr")
	pf.Bool("trace", false, "export OpenTelemetry spans to stderr")
	for _, name := range []string{"config", "db", "log-level", "log-format", "log-file", "trace"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}
	bindEnv(a.v)

	root.AddCommand(
		newIngestCmd(a),
		newStatsCmd(a),
		newAskCmd(a),
		newServeCmd(a),
	)
	return root, a
}

func (a *app) setup(ctx context.Context) error {
	closer, err := setupLogging(os.Stderr, a.v.GetString("log-level"), a.v.GetString("log-format"), a.v.GetString("log-file"))
	if err != nil {
		return err
	}
	a.logFile = closer

	if a.v.GetBool("trace") {
		shutdown, err := setupTracing(ctx, os.Stderr)
		if err != nil {
			return err
		}
		a.traceShutdown = shutdown
	}

	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// teardown flushes spans and closes the log file. It runs even when the
// command failed.
func (a *app) teardown() {
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.traceShutdown(ctx); err != nil {
			slog.Warn("medgraph: flushing traces", "error", err)
		}
		cancel()
		a.traceShutdown = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// engine builds an engine from the loaded config.
func (a *app) engine(ctx context.Context) (medgraph.Engine, error) {
	e, err := medgraph.New(ctx, a.cfg, medgraph.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}
