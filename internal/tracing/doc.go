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

/*
Package tracing wires OpenTelemetry for tool calls.

A Provider owns an SDK tracer provider and meter provider. Spans can be
printed to a writer (stdouttrace) and metrics exposed for Prometheus
scraping through MetricsHandler.

	provider, err := tracing.NewProvider(tracing.Config{
	    ServiceName: "mcpagent",
	    TraceWriter: os.Stderr,
	    Prometheus:  true,
	})
	defer provider.Shutdown(ctx)

	http.Handle("/metrics", provider.MetricsHandler())

Metrics records the tool-call instruments the orchestrator updates: a call
counter by server and outcome, a latency histogram, an in-flight gauge and a
reconnect counter.
*/
package tracing
