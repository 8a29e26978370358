// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func sumValue(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	want := attribute.NewSet(attrs...)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestMetrics_RecordsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.CallStarted(ctx, "fs")
	m.CallStarted(ctx, "fs")
	m.CallFinished(ctx, "fs", "ok", 20*time.Millisecond)
	m.CallStarted(ctx, "fetch")
	m.CallFinished(ctx, "fetch", "transport_lost", time.Second)
	m.Reconnect(ctx, "fetch", "ok")

	got := collect(t, reader)

	calls := got["mcpagent_tool_calls_total"]
	assert.EqualValues(t, 1, sumValue(t, calls, AttrServer.String("fs"), AttrOutcome.String("ok")))
	assert.EqualValues(t, 1, sumValue(t, calls, AttrServer.String("fetch"), AttrOutcome.String("transport_lost")))

	inflight := got["mcpagent_tool_calls_inflight"]
	assert.EqualValues(t, 1, sumValue(t, inflight, AttrServer.String("fs")))
	assert.EqualValues(t, 0, sumValue(t, inflight, AttrServer.String("fetch")))

	reconnects := got["mcpagent_reconnects_total"]
	assert.EqualValues(t, 1, sumValue(t, reconnects, AttrServer.String("fetch"), AttrOutcome.String("ok")))

	hist, ok := got["mcpagent_tool_call_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.EqualValues(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CallStarted(context.Background(), "fs")
		m.CallFinished(context.Background(), "fs", "ok", time.Millisecond)
		m.Reconnect(context.Background(), "fs", "ok")
	})
}
