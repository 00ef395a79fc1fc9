// Package telemetry configures OpenTelemetry metrics and traces for lectern
// and exposes the instruments recorded by narration and live voice.
package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Config selects the exporters.
type Config struct {
	ServiceName  string
	Version      string
	MetricsAddr  string // empty disables the /metrics listener
	OTLPEndpoint string
	OTLPInsecure bool
	TraceStdout  bool
	TraceWriter  io.Writer // destination for stdout traces, usually the log file
}

// Shutdown flushes and stops the providers.
type Shutdown func(context.Context) error

// Setup installs global meter and tracer providers. The returned handler
// serves Prometheus metrics and is nil when the exporter is unavailable.
func Setup(ctx context.Context, cfg Config, logger *log.Logger) (Shutdown, http.Handler, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("telemetry")
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lectern"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			attribute.String("app.component", "reader"),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	traceShutdown, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, nil, err
	}

	meterProvider, handler := initMetrics(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceShutdown(ctx))
	}
	return shutdown, handler, nil
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource, logger *log.Logger) (Shutdown, error) {
	var exporter sdktrace.SpanExporter
	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		exporter = exp
		logger.Info("Tracing enabled", "exporter", "otlp", "endpoint", endpoint)
	case cfg.TraceStdout:
		w := cfg.TraceWriter
		if w == nil {
			w = io.Discard
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		exporter = exp
		logger.Info("Tracing enabled", "exporter", "stdout")
	default:
		return func(context.Context) error { return nil }, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func initMetrics(res *resource.Resource, logger *log.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn("Prometheus exporter unavailable", "err", err)
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.Handler()
}

// Serve exposes handler on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	if addr == "" || handler == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("Serving metrics", "addr", addr)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
