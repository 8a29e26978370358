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

import "io"

// Config holds observability configuration.
type Config struct {
	// ServiceName identifies this service in traces. Default: "mcpagent"
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// SampleRate is the fraction of root spans to record. Zero or >= 1
	// records everything.
	SampleRate float64

	// TraceWriter receives spans as JSON when set.
	TraceWriter io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool

	// Prometheus attaches a Prometheus reader to the meter provider.
	Prometheus bool
}

// DefaultConfig returns a config that records spans but exports nothing.
func DefaultConfig() Config {
	return Config{ServiceName: "mcpagent", ServiceVersion: "dev"}
}
