package interceptors

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/stats"
)

// TracingOptions customises the OpenTelemetry server instrumentation.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	Additional     []otelgrpc.Option
}

// Tracing wraps the otelgrpc stats handler that starts a span per RPC.
type Tracing struct {
	handler stats.Handler
}

// NewTracing builds the server stats handler with the supplied options.
func NewTracing(opts TracingOptions) *Tracing {
	options := make([]otelgrpc.Option, 0, len(opts.Additional)+2)
	if opts.TracerProvider != nil {
		options = append(options, otelgrpc.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		options = append(options, otelgrpc.WithPropagators(opts.Propagators))
	}
	options = append(options, opts.Additional...)

	return &Tracing{handler: otelgrpc.NewServerHandler(options...)}
}

// ServerOption installs the stats handler on a gRPC server. A nil Tracing installs nothing.
func (t *Tracing) ServerOption() grpc.ServerOption {
	if t == nil || t.handler == nil {
		return grpc.EmptyServerOption{}
	}
	return grpc.StatsHandler(t.handler)
}
