package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/tablewrite/config"
	"github.com/INLOpen/tablewrite/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// Exported spans carry the resolved write concurrency mode as a resource
// attribute.
func initTracerProvider(cfg config.TracingConfig, mode core.WriteConcurrencyMode, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := newTraceResource(ctx, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

func newTraceResource(ctx context.Context, mode core.WriteConcurrencyMode) (*resource.Resource, error) {
	return resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String("tablewrite"),
		attribute.String("write.concurrency_mode", mode.String()),
	))
}

// run is main without os.Exit, so it can be tested.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("writemode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "Path to the configuration file")
	describe := fs.Bool("describe", false, "Print the documented write options as YAML and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *describe {
		out, err := config.MarshalDescribe()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		_, _ = stdout.Write(out)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger := slog.New(slog.NewJSONHandler(stderr, nil))
		if core.IsConfigurationError(err) {
			bootLogger.Error("Refusing to start with invalid configuration", "path", *configPath, "error", err)
		} else {
			bootLogger.Error("Failed to load configuration", "path", *configPath, "error", err)
		}
		return 1
	}

	logger, closer, err := createLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "failed to create logger: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}

	mode, err := cfg.Write.Mode()
	if err != nil {
		logger.Error("Invalid write concurrency mode", "error", err)
		return 1
	}

	tp, cleanup, err := initTracerProvider(cfg.Tracing, mode, logger)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		return 1
	}
	defer cleanup()

	_, span := tp.Tracer("github.com/INLOpen/tablewrite/cmd/writemode").Start(context.Background(), "ResolveWriteConcurrencyMode")
	span.SetAttributes(
		attribute.String("write.concurrency_mode", mode.String()),
		attribute.Bool("write.optimistic_concurrency_control", mode.SupportsOptimisticConcurrencyControl()),
	)
	span.End()

	logger.Info("Resolved write concurrency mode",
		"mode", mode.String(),
		"optimistic_concurrency_control", mode.SupportsOptimisticConcurrencyControl(),
		"lock_acquire_timeout", cfg.Write.LockAcquireTimeout(logger),
	)
	fmt.Fprintf(stdout, "mode=%s occ=%t\n", mode, mode.SupportsOptimisticConcurrencyControl())
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
