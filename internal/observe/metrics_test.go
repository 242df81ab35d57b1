package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestToolExecutionDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ToolExecutionDuration.Record(ctx, 0.0012, metric.WithAttributes(Attr("tool", "simulate_battle")))
	m.ToolExecutionDuration.Record(ctx, 0.034, metric.WithAttributes(Attr("tool", "simulate_battle")))
	m.ToolExecutionDuration.Record(ctx, 0.5, metric.WithAttributes(Attr("tool", "get_sitrep")))

	hist, ok := findMetric(collect(t, reader), "qjm.tool_execution.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("tool execution duration is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("tool")
		counts[v.AsString()] += dp.Count
	}
	if counts["simulate_battle"] != 2 || counts["get_sitrep"] != 1 {
		t.Errorf("samples by tool = %v", counts)
	}
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		all := true
		for _, kv := range match {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.AsString() != kv.Value.AsString() {
				all = false
				break
			}
		}
		if all {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point matching %v", name, match)
	return 0
}

func TestRecordBattle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBattle(ctx, "simulate", 0.002, nil)
	m.RecordBattle(ctx, "simulate", 0.001, nil)
	m.RecordBattle(ctx, "commit", 0.003, errors.New("no personnel"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, "qjm.battles", Attr("mode", "simulate"), Attr("status", "ok")); got != 2 {
		t.Errorf("simulate ok = %d, want 2", got)
	}
	if got := sumFor(t, rm, "qjm.battles", Attr("mode", "commit"), Attr("status", "rejected")); got != 1 {
		t.Errorf("commit rejected = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "qjm.battle.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("battle duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}
}

func TestRecordLosses(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLosses(ctx, "attacker", 40, 3)
	m.RecordLosses(ctx, "attacker", 2, 0)
	m.RecordLosses(ctx, "defender", 11, 1)

	rm := collect(t, reader)
	tests := []struct {
		side, kind string
		want       int64
	}{
		{"attacker", "personnel", 42},
		{"attacker", "vehicles", 3},
		{"defender", "personnel", 11},
		{"defender", "vehicles", 1},
	}
	for _, tc := range tests {
		if got := sumFor(t, rm, "qjm.losses", Attr("side", tc.side), Attr("kind", tc.kind)); got != tc.want {
			t.Errorf("%s/%s = %d, want %d", tc.side, tc.kind, got, tc.want)
		}
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "simulate_battle", "ok")
	m.RecordToolCall(ctx, "simulate_battle", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "qjm.tool.calls", Attr("status", "ok")); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestStoreErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStoreError(ctx, "save_state")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "qjm.store.errors", Attr("op", "save_state")); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestBreakerTransitionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "postgres", "open")
	m.RecordBreakerTransition(ctx, "postgres", "half-open")
	m.RecordBreakerTransition(ctx, "postgres", "open")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "qjm.store.breaker.transitions", Attr("to", "open")); got != 2 {
		t.Errorf("open transitions = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LoadedFormations.Record(ctx, 12)
	m.LoadedFormations.Record(ctx, 14)
	m.CatalogItems.Record(ctx, 7, metric.WithAttributes(Attr("kind", "vehicle")))
	m.WebsocketClients.Add(ctx, 2)
	m.WebsocketClients.Add(ctx, -1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"qjm.scenario.formations", 14},
		{"qjm.catalog.items", 7},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			g, ok := met.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("metric %q is not a gauge", tc.name)
			}
			if len(g.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := g.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}

	if got := sumFor(t, rm, "qjm.websocket.clients"); got != 1 {
		t.Errorf("websocket clients = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics built a second instance")
	}
}
