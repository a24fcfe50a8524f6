// Package telemetry installs the process-wide OpenTelemetry tracer
// used to follow one transaction or rule compile across the
// compiler, evaluator, and data store, complementing (not
// replacing) the Prometheus counters in pkg/metrics.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies every span and metric this service
// emits, regardless of which package started them.
const instrumentationName = "github.com/spendmonitor/alertengine"

// Init installs a process-wide SDK TracerProvider and returns a
// shutdown func the caller must run before exit to flush any
// in-flight spans. No exporter is registered here: an operator wires
// one in (OTLP, stdout, etc.) by passing sdktrace.WithBatcher options
// through NewTracerProvider before a production rollout; until then
// spans are sampled and recorded but go nowhere, which is enough for
// the span/attribute wiring itself to be exercised and tested.
func Init(opts ...sdktrace.TracerProviderOption) (shutdown func(context.Context) error) {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the tracer every package in this service should
// start its spans from.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter every package in this service should
// record its OTel instruments against.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
