// Package telemetry provides the telemetry.otlp module. It installs the
// global OpenTelemetry tracer provider, exporting spans over OTLP/HTTP when
// an endpoint is configured. Other packages obtain tracers with
// otel.Tracer and never depend on this package.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/strmsync/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the tracing configuration.
type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port. Tracing spans are
	// recorded but dropped when empty.
	Endpoint string `yaml:"endpoint"`

	// URLPath overrides the default /v1/traces path.
	URLPath string `yaml:"url_path"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName is reported as service.name. Defaults to "strmsync".
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of root spans sampled. Defaults to 1.
	SampleRatio *float64 `yaml:"sample_ratio"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "strmsync"
	}
	if c.SampleRatio == nil {
		r := 1.0
		c.SampleRatio = &r
	}
}

func (c *Config) validate() error {
	if r := *c.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}

// Module owns the tracer provider.
type Module struct {
	config   Config
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.otlp",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telemetry: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	res := resource.NewSchemaless(attribute.String("service.name", m.config.ServiceName))
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*m.config.SampleRatio))),
	}

	if m.config.Endpoint != "" {
		exporter, err := otlptracehttp.New(context.Background(), m.exporterOptions()...)
		if err != nil {
			return fmt.Errorf("telemetry: create exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	m.provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(m.provider)

	m.logger.Info("tracing configured", "endpoint", m.config.Endpoint, "service", m.config.ServiceName)
	return nil
}

func (m *Module) exporterOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
	if m.config.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(m.config.URLPath))
	}
	if m.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
	}
	return opts
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper. Pending spans are flushed.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}

// Provider returns the installed tracer provider.
func (m *Module) Provider() *sdktrace.TracerProvider {
	return m.provider
}
