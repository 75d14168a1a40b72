package telemetry

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/vinayprograms/ift/errors"
)

// ProviderConfig configures the OpenTelemetry provider.
type ProviderConfig struct {
	// ServiceName is the name of the service.
	// If empty, uses OTEL_SERVICE_NAME, then "ift".
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	// If empty, uses OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string

	// Protocol is "grpc" or "http". Default is "grpc".
	Protocol string

	// Insecure disables TLS.
	Insecure bool

	// Headers are additional headers to send with requests.
	Headers map[string]string

	// SampleRatio is the fraction of calls traced, in (0, 1].
	// Zero means always sample.
	SampleRatio float64

	// BatchTimeout is the maximum time to wait before sending a batch.
	BatchTimeout time.Duration

	// ExportTimeout is the timeout for exporting spans.
	ExportTimeout time.Duration
}

// Provider wraps the OpenTelemetry TracerProvider with cleanup.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider installs an OTLP exporting tracer provider as the global
// provider and sets the global Tracer. The Provider must be shut down when
// done.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	cfg = resolveProviderConfig(cfg)
	if cfg.Endpoint == "" {
		return nil, errors.InvalidInput("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, errors.InvalidInput("telemetry sample ratio must be within [0, 1]")
	}
	if cfg.Protocol != "grpc" && cfg.Protocol != "http" {
		return nil, errors.InvalidInput("unknown telemetry protocol " + cfg.Protocol + " (use 'grpc' or 'http')")
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerFromProvider(tp, cfg.ServiceName)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, tracer: tracer}, nil
}

// resolveProviderConfig fills defaults from the environment.
func resolveProviderConfig(cfg ProviderConfig) ProviderConfig {
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	// Exporters take host:port.
	cfg.Endpoint = strings.TrimPrefix(cfg.Endpoint, "http://")
	cfg.Endpoint = strings.TrimPrefix(cfg.Endpoint, "https://")

	if cfg.ServiceName == "" {
		cfg.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ift"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "grpc"
	}
	return cfg
}

// newResource describes the service on top of the SDK defaults. The service
// attributes carry no schema URL, so they merge with whatever semconv
// version the SDK's default resource was built against.
func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, errors.Wrap(err, "create resource")
	}
	return res, nil
}

func newExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch cfg.Protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)

	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)

	default:
		return nil, errors.InvalidInput("unknown telemetry protocol " + cfg.Protocol + " (use 'grpc' or 'http')")
	}

	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "create exporter")
	}
	return exporter, nil
}

// Tracer returns the tracer for this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// CallTracer returns a call tracer recording to this provider.
func (p *Provider) CallTracer() *CallTracer {
	return NewCallTracer(p.tracer)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush forces a flush of all pending spans.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
