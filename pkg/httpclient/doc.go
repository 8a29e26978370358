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

// Package httpclient builds the HTTP client used by remote tool-server
// transports.
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//
// # Streams
//
// The client has no overall timeout: an event stream stays open for the life
// of a session. ResponseHeaderTimeout bounds how long a server may take to
// start answering, and request contexts bound everything else.
//
// # Retry Behavior
//
// Only idempotent requests (GET, HEAD, OPTIONS) are retried, which in
// practice means opening an event stream. POSTed protocol frames are never
// replayed; a duplicated request would run a tool twice. Retried outcomes:
//   - HTTP 5xx, 408 and 429 (Retry-After is honored when shorter)
//   - network timeouts, refused and reset connections
//
// # Observability
//
// Each request is logged at debug level (warn on failure) with the URL's
// sensitive query parameters redacted. Headers are never logged. The active
// trace context is injected with the global OpenTelemetry propagator.
package httpclient
