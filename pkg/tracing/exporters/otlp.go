// Package exporters builds OTLP trace exporters from service configuration.
package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultTimeout = 10 * time.Second

// Config selects the collector endpoint and transport for span export.
type Config struct {
	// Endpoint is the collector address: host:4317 for grpc, host:4318 for http.
	Endpoint string

	// Protocol is "grpc" or "http".
	Protocol string

	// Insecure disables TLS, for collectors inside the cluster network.
	Insecure bool

	// Headers are sent with every export request, e.g. collector auth.
	Headers map[string]string

	// Timeout bounds each export call. Zero means defaultTimeout.
	Timeout time.Duration
}

// New builds the OTLP exporter for the configured protocol.
func New(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Protocol {
	case "grpc":
		return newGRPC(ctx, cfg)
	case "http":
		return newHTTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q, want grpc or http", cfg.Protocol)
	}
}

func newGRPC(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newHTTP(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}
