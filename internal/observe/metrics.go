// Package observe provides application-wide observability primitives for
// qjm: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all qjm metrics.
const meterName = "github.com/MrWong99/qjm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BattleDuration tracks battle resolution latency. Use with attribute:
	//   attribute.String("mode", "simulate"|"commit")
	BattleDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Battles counts resolutions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", "ok"|"rejected")
	Battles metric.Int64Counter

	// Losses counts elements taken out of action by committed battles. Use
	// with attributes:
	//   attribute.String("side", "attacker"|"defender"), attribute.String("kind", "personnel"|"vehicles")
	Losses metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// StoreErrors counts failed persistence calls. Use with attribute:
	//   attribute.String("op", ...)
	StoreErrors metric.Int64Counter

	// BreakerTransitions counts store circuit-breaker state changes. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("to", "closed"|"open"|"half-open")
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// LoadedFormations tracks the number of formation nodes in the loaded
	// scenario.
	LoadedFormations metric.Int64Gauge

	// CatalogItems tracks the size of the equipment catalog. Use with
	// attribute:
	//   attribute.String("kind", "weapon"|"vehicle")
	CatalogItems metric.Int64Gauge

	// WebsocketClients tracks connected event-feed clients.
	WebsocketClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). A battle
// over a corps-sized tree resolves in milliseconds.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BattleDuration, err = m.Float64Histogram("qjm.battle.duration",
		metric.WithDescription("Latency of battle resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("qjm.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Battles, err = m.Int64Counter("qjm.battles",
		metric.WithDescription("Total battle resolutions by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.Losses, err = m.Int64Counter("qjm.losses",
		metric.WithDescription("Elements taken out of action by side and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("qjm.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("qjm.store.errors",
		metric.WithDescription("Failed persistence calls by operation."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("qjm.store.breaker.transitions",
		metric.WithDescription("Store circuit-breaker state changes by backend and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.LoadedFormations, err = m.Int64Gauge("qjm.scenario.formations",
		metric.WithDescription("Formation nodes in the loaded scenario."),
	); err != nil {
		return nil, err
	}
	if met.CatalogItems, err = m.Int64Gauge("qjm.catalog.items",
		metric.WithDescription("Equipment catalog size by kind."),
	); err != nil {
		return nil, err
	}
	if met.WebsocketClients, err = m.Int64UpDownCounter("qjm.websocket.clients",
		metric.WithDescription("Connected event-feed clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("qjm.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBattle records one resolution's latency and outcome.
func (m *Metrics) RecordBattle(ctx context.Context, mode string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "rejected"
	}
	m.BattleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("mode", mode)))
	m.Battles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordLosses adds personnel and vehicle losses for one side.
func (m *Metrics) RecordLosses(ctx context.Context, side string, personnel, vehicles int) {
	m.Losses.Add(ctx, int64(personnel), metric.WithAttributes(
		attribute.String("side", side),
		attribute.String("kind", "personnel"),
	))
	m.Losses.Add(ctx, int64(vehicles), metric.WithAttributes(
		attribute.String("side", side),
		attribute.String("kind", "vehicles"),
	))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordStoreError counts a failed persistence call.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordBreakerTransition counts a store backend's breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("to", to),
	))
}
