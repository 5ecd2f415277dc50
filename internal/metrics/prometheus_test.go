package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/chris-regnier/callsite/internal/engine"
)

func TestPrometheus_MirrorsCollector(t *testing.T) {
	p := NewPrometheus()
	c := NewCollector(WithPrometheus(p))
	ctx := context.Background()

	c.FileDone(ctx, completed("A.java", "S2254", "S2254"))
	c.FileDone(ctx, completed("B.java", "S1148"))
	c.FileDone(ctx, &engine.FileResult{Path: "C.java", State: engine.Aborted})

	assert.Equal(t, 2.0, testutil.ToFloat64(p.files.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.files.WithLabelValues("aborted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.diagnostics.WithLabelValues("S2254")))
	assert.Equal(t, 8.0, testutil.ToFloat64(p.invocations))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.cache.WithLabelValues("miss")))
}

func TestPrometheus_WriteTextfile(t *testing.T) {
	p := NewPrometheus()
	NewCollector(WithPrometheus(p)).FileDone(context.Background(), completed("A.java", "S2254"))

	path := filepath.Join(t.TempDir(), "textfile", "callsite.prom")
	require.NoError(t, p.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `callsite_engine_diagnostics_total{rule="S2254"} 1`), out)
	assert.Contains(t, out, "callsite_engine_file_duration_seconds_bucket")
}

func TestInstrumented_RecordsToMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	inst, err := NewInstrumented()
	require.NoError(t, err)

	ctx := context.Background()
	inst.FileDone(ctx, completed("A.java", "S2254", "S1148"))
	inst.FileDone(ctx, completed("B.java"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["callsite.engine.files"])
	assert.Equal(t, int64(2), sums["callsite.engine.diagnostics"])
}
