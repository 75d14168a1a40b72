// Package telemetry provides transport observers for metrics and tracing.
//
// Metrics exports Prometheus counters for messages and calls. CallTracer
// records one OpenTelemetry span per correlated call, from the moment a
// callback id is allocated until its callback runs. Both implement
// transport.Observer and can be combined with transport.Observers:
//
//	metrics, _ := telemetry.NewMetrics(prometheus.DefaultRegisterer)
//	tracer := telemetry.NewCallTracer(telemetry.GetTracer())
//	t, _ := transport.NewChild(ch, origin,
//	    transport.WithObserver(transport.Observers{metrics, tracer}))
//
// InitProvider installs an OTLP exporting tracer provider as the global
// provider.
package telemetry
