package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/lsp"
)

// LSPOptions holds flags of the lsp command.
type LSPOptions struct {
	TraceFile      string
	RequestTimeout time.Duration
}

// NewLSPCommand creates the lsp command.
func NewLSPCommand(version string) *cobra.Command {
	opts := &LSPOptions{}
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start the LSP server for editor integration.

The server communicates over stdin/stdout using JSON-RPC. Open documents are
analysed in the background against the configured catalog; diagnostics are
published after every analysis.

When metrics_addr is set, Prometheus metrics are served on /metrics.`,
		Example: `  # Start LSP server (usually called by an editor)
  sqlsense lsp --catalog catalog.yaml --watch

  # Record request spans
  sqlsense lsp --trace-file /tmp/sqlsense-trace.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd, version, opts)
		},
	}

	cmd.Flags().StringVar(&opts.TraceFile, "trace-file", "", "Write request spans as JSON to this file")
	cmd.Flags().DurationVar(&opts.RequestTimeout, "request-timeout", 2*time.Second, "Time limit for completion requests")
	return cmd
}

func runLSP(cmd *cobra.Command, version string, opts *LSPOptions) error {
	rt := GetRuntime(cmd)
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	logger := rt.Logger.With("component", "lsp")

	if opts.TraceFile != "" {
		shutdown, err := installTracing(opts.TraceFile)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	meta, err := openMetadata(ctx, rt.Config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = meta.Close() }()

	if addr := rt.Config.MetricsAddr; addr != "" {
		stop := serveMetrics(addr, logger)
		defer stop()
	}

	server, err := lsp.NewServer(cmd.InOrStdin(), cmd.OutOrStdout(), lsp.Options{
		Engine:         engineConfig(rt.Config, meta.provider, logger),
		Registerer:     prometheus.DefaultRegisterer,
		RequestTimeout: opts.RequestTimeout,
		Version:        version,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	if rt.Config.Catalog.Watch && meta.reloadable != nil {
		if err := catalog.Watch(ctx, meta.reloadable, rt.Config.Catalog.File, logger, server.Engine().Reanalyze); err != nil {
			return err
		}
		logger.Info("watching catalog", "path", rt.Config.Catalog.File)
	}
	return server.Run()
}

// serveMetrics exposes the default Prometheus registry on addr until the
// returned function is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// installTracing sends spans of the global tracer provider to path.
func installTracing(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
		_ = f.Close()
	}, nil
}
