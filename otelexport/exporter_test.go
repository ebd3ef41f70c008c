package otelexport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nikiz24/slotstat"
)

func newTree(t *testing.T) (*slotstat.Tree, slotstat.DBCounters, *slotstat.Timing) {
	t.Helper()
	db := slotstat.NewDBCounters("db")
	wait := slotstat.NewTiming("wait")
	g, err := slotstat.NewGroup("pool", db, wait)
	require.NoError(t, err)
	tree, err := slotstat.Assemble(g)
	require.NoError(t, err)
	return tree, db, wait
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterObservesValidSlots(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tree, db, wait := newTree(t)

	exp, err := New(provider.Meter("slotstat-test"), tree)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	db.OnGet()
	db.OnGet()
	db.OnGot()
	wait.OnDuration(2 * time.Second)

	metrics := collect(t, reader)

	counters, ok := metrics["slotstat.counter"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	values := make(map[string]int64)
	for _, dp := range counters.DataPoints {
		label, _ := dp.Attributes.Value(attribute.Key("slot"))
		values[label.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), values["pool.db.get"])
	assert.Equal(t, int64(1), values["pool.db.got"])
	assert.Len(t, values, slotstat.DBEvents.Len())

	timings, ok := metrics["slotstat.timing"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	stats := make(map[string]float64)
	for _, dp := range timings.DataPoints {
		slot, _ := dp.Attributes.Value(attribute.Key("slot"))
		assert.Equal(t, "pool.wait", slot.AsString())
		stat, _ := dp.Attributes.Value(attribute.Key("stat"))
		stats[stat.AsString()] = dp.Value
	}
	assert.InDelta(t, 2.0, stats["sum"], 1e-9)
	assert.Equal(t, 1.0, stats["count"])
	assert.InDelta(t, 2.0, stats["avg"], 1e-9)
}

func TestExporterSkipsInsignificantSlots(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tree, _, _ := newTree(t)

	exp, err := New(provider.Meter("slotstat-test"), tree)
	require.NoError(t, err)
	defer exp.Close()

	for _, m := range collect(t, reader) {
		switch data := m.Data.(type) {
		case metricdata.Gauge[int64]:
			assert.Empty(t, data.DataPoints, m.Name)
		case metricdata.Gauge[float64]:
			assert.Empty(t, data.DataPoints, m.Name)
		}
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	tree, _, _ := newTree(t)
	_, err := New(nil, tree)
	assert.ErrorIs(t, err, ErrNilMeter)

	provider := sdkmetric.NewMeterProvider()
	_, err = New(provider.Meter("slotstat-test"), nil)
	assert.ErrorIs(t, err, ErrNilTree)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tree, db, wait := newTree(t)

	exp, err := New(provider.Meter("slotstat-test"), tree)
	require.NoError(t, err)
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			db.OnGet()
			wait.OnDuration(d)

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(time.Duration(i+1) * time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, int64(8), db.Count(slotstat.DBGet))
}

func TestCloseNilExporter(t *testing.T) {
	var e *Exporter
	assert.NoError(t, e.Close())
}
