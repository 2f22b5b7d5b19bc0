package adapter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter taken from the global providers.
const InstrumentationName = "github.com/srediag/shmlog"

// Tracer returns the tracer of the globally registered provider. Until a
// provider is installed with otel.SetTracerProvider it is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter returns the meter of the globally registered provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}
