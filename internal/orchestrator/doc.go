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

// Package orchestrator routes tool calls to named servers.
//
// Execute resolves the server's session through a mcp.SessionProvider,
// reconnects once when the session is down, and invokes the tool. Every call
// is logged at start and finish, traced as an OpenTelemetry span and counted
// in tracing.Metrics. Errors are always *mcp.MCPError.
package orchestrator
