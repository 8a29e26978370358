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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvider_TraceWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(Config{ServiceName: "test", TraceWriter: &buf})
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "mcp.tool_call")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "mcp.tool_call")
}

func TestProvider_ExtraOptions(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	p, err := NewProvider(DefaultConfig(), sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "work")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].Name())
}

func TestProvider_MetricsHandler(t *testing.T) {
	p, err := NewProvider(Config{Prometheus: true})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	p.Metrics().CallStarted(context.Background(), "fs")
	p.Metrics().CallFinished(context.Background(), "fs", "ok", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcpagent_tool_calls")
	assert.Contains(t, rec.Body.String(), `server="fs"`)
}

func TestProvider_MetricsHandlerDisabled(t *testing.T) {
	p, err := NewProvider(DefaultConfig())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, NewSampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, NewSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, NewSampler(0.25).Description(), "TraceIDRatioBased")
}
