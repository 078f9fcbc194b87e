// Package otel is the metrics-otel backend. It turns trace and span
// announcements from the metrics bus into OpenTelemetry spans on an SDK
// TracerProvider. Metric announcements are ignored.
package otel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-lynx/servicebase/metrics"
)

// Name is the plugin name of this backend.
const Name = "metrics-otel"

const instrumentationName = "github.com/go-lynx/servicebase/metrics/otel"

// Config is the plugin configuration.
type Config struct {
	// SampleRatio is the fraction of new traces recorded, 0 means 1.
	SampleRatio float64 `yaml:"sampleRatio"`
	// Global installs the provider as the process-wide OTel tracer provider.
	Global bool `yaml:"global"`

	// Endpoint is the OTLP collector host:port. Empty disables export.
	Endpoint string `yaml:"endpoint"`
	// Protocol is grpc (default) or http.
	Protocol string `yaml:"protocol"`
	// Insecure uses plaintext instead of TLS.
	Insecure bool `yaml:"insecure"`
	// URLPath overrides /v1/traces for the http protocol.
	URLPath string            `yaml:"urlPath"`
	Headers map[string]string `yaml:"headers"`
	// Timeout of one export, as a Go duration.
	Timeout string `yaml:"timeout"`
	Gzip    bool   `yaml:"gzip"`
	// Simple exports every span as it ends instead of batching.
	Simple bool `yaml:"simple"`
}

// Validate implements plugins.Validator.
func (c *Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sampleRatio must be within [0,1], got %v", c.SampleRatio)
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	if err := validateEndpoint(c.Endpoint); err != nil {
		return err
	}
	_, err := c.timeout()
	return err
}

// Backend implements metrics.Backend trace calls on OpenTelemetry.
type Backend struct {
	metrics.NopBackend

	provider *sdktrace.TracerProvider
	tracer   trace.Tracer

	mu     sync.Mutex
	traces map[string]trace.Span
	spans  map[string]trace.Span
}

// New builds a backend with its own TracerProvider. opts are passed to the
// provider, typically exporters or span processors.
func New(cfg Config, opts ...sdktrace.TracerProviderOption) *Backend {
	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)
	if cfg.Global {
		otel.SetTracerProvider(tp)
	}
	return &Backend{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName),
		traces:   make(map[string]trace.Span),
		spans:    make(map[string]trace.Span),
	}
}

// Provider returns the TracerProvider spans are recorded on.
func (b *Backend) Provider() *sdktrace.TracerProvider { return b.provider }

func (b *Backend) StartTrace(ts time.Time, ev metrics.TraceEvent) error {
	_, span := b.tracer.Start(context.Background(), ev.Plugin,
		trace.WithTimestamp(ts),
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.String("servicebase.plugin", ev.Plugin),
			attribute.String("servicebase.trace_id", ev.TraceID),
		))
	b.mu.Lock()
	b.traces[ev.TraceID] = span
	b.mu.Unlock()
	return nil
}

func (b *Backend) EndTrace(ts time.Time, ev metrics.TraceEvent) error {
	b.mu.Lock()
	span, ok := b.traces[ev.TraceID]
	delete(b.traces, ev.TraceID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("trace %s is not open", ev.TraceID)
	}
	span.SetAttributes(attributes(ev.Attributes)...)
	span.End(trace.WithTimestamp(ts))
	return nil
}

func (b *Backend) StartSpan(ts time.Time, ev metrics.TraceEvent) error {
	b.mu.Lock()
	parent, ok := b.spans[ev.ParentSpanID]
	if !ok {
		parent, ok = b.traces[ev.TraceID]
	}
	b.mu.Unlock()

	ctx := context.Background()
	if ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	attrs := append(attributes(ev.Attributes),
		attribute.String("servicebase.plugin", ev.Plugin),
		attribute.String("servicebase.trace_id", ev.TraceID),
		attribute.String("servicebase.span_id", ev.SpanID),
	)
	_, span := b.tracer.Start(ctx, ev.Name, trace.WithTimestamp(ts), trace.WithAttributes(attrs...))

	b.mu.Lock()
	b.spans[ev.SpanID] = span
	b.mu.Unlock()
	return nil
}

func (b *Backend) EndSpan(ts time.Time, ev metrics.TraceEvent) error {
	span, err := b.take(ev.SpanID)
	if err != nil {
		return err
	}
	span.SetAttributes(attributes(ev.Attributes)...)
	span.End(trace.WithTimestamp(ts))
	return nil
}

// ErrorSpan records ev.Err on the span and ends it.
func (b *Backend) ErrorSpan(ts time.Time, ev metrics.TraceEvent) error {
	span, err := b.take(ev.SpanID)
	if err != nil {
		return err
	}
	msg := "error"
	if ev.Err != nil {
		msg = ev.Err.Error()
		span.RecordError(ev.Err, trace.WithTimestamp(ts))
	}
	span.SetStatus(codes.Error, msg)
	span.SetAttributes(attributes(ev.Attributes)...)
	span.End(trace.WithTimestamp(ts))
	return nil
}

func (b *Backend) take(spanID string) (trace.Span, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	span, ok := b.spans[spanID]
	if !ok {
		return nil, fmt.Errorf("span %s is not open", spanID)
	}
	delete(b.spans, spanID)
	return span, nil
}

// Open returns the number of traces and spans started but not ended.
func (b *Backend) Open() (traces, spans int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.traces), len(b.spans)
}

// Dispose flushes and shuts the provider down. Spans still open are dropped.
func (b *Backend) Dispose() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.provider.Shutdown(ctx)
}

func attributes(m metrics.Attributes) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, attribute.String(k, v))
	}
	return out
}
