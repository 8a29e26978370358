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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	AttrServer  = attribute.Key("server")
	AttrOutcome = attribute.Key("outcome")
)

// Metrics holds the tool-call instruments. A nil *Metrics records nothing.
type Metrics struct {
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
	reconnects metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/tombee/mcpagent")
	m := &Metrics{}

	var err error
	m.calls, err = meter.Int64Counter(
		"mcpagent_tool_calls_total",
		metric.WithDescription("Total number of tool calls by server and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram(
		"mcpagent_tool_call_duration_seconds",
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.inflight, err = meter.Int64UpDownCounter(
		"mcpagent_tool_calls_inflight",
		metric.WithDescription("Tool calls currently awaiting a response"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.reconnects, err = meter.Int64Counter(
		"mcpagent_reconnects_total",
		metric.WithDescription("Lazy reconnect attempts by server and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CallStarted marks a call in flight.
func (m *Metrics) CallStarted(ctx context.Context, server string) {
	if m == nil {
		return
	}
	m.inflight.Add(ctx, 1, metric.WithAttributes(AttrServer.String(server)))
}

// CallFinished records a completed call.
func (m *Metrics) CallFinished(ctx context.Context, server, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	srv := AttrServer.String(server)
	m.inflight.Add(ctx, -1, metric.WithAttributes(srv))
	m.calls.Add(ctx, 1, metric.WithAttributes(srv, AttrOutcome.String(outcome)))
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(srv))
}

// Reconnect records a lazy reconnect attempt.
func (m *Metrics) Reconnect(ctx context.Context, server, outcome string) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(AttrServer.String(server), AttrOutcome.String(outcome)))
}
