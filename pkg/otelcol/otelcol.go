package otelcol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kudos/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol", fx.Invoke(Register))

const exporterTimeout = 10 * time.Second

// NewExporter builds the OTLP span exporter for OTEL.PROTOCOL.
func NewExporter(ctx context.Context, c config.Otel) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	switch strings.ToLower(c.Protocol) {
	case "", "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(c.Endpoint),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if c.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(c.Endpoint),
			otlptracegrpc.WithCompressor("gzip"),
		}
		if c.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", c.Protocol)
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))
	return trace.NewTracerProvider(opts...)
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(cfg.AppVersion),
		semconv.DeploymentEnvironment(cfg.AppEnv),
	))
}

// Register installs the global tracer provider when OTEL.ENABLE is set.
// Otherwise spans from otelgorm, otelhttp and the services stay no-ops.
func Register(lc fx.Lifecycle, cfg *config.Config) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !cfg.Otel.Enable {
		return nil
	}

	exporter, err := NewExporter(context.Background(), cfg.Otel)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}
	res, err := newResource(cfg)
	if err != nil {
		zap.L().Warn("otel resource merge failed, using default", zap.Error(err))
		res = resource.Default()
	}

	tp := ProvideTrace(exporter, trace.WithResource(res))
	otel.SetTracerProvider(tp)
	zap.L().Info("otel tracing enabled",
		zap.String("protocol", cfg.Otel.Protocol),
		zap.String("endpoint", cfg.Otel.Endpoint))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
