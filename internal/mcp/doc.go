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
Package mcp is the client side of the Model Context Protocol: sessions to
tool servers and a registry that owns them.

# Sessions

A Session owns one transport (see package transport) and speaks JSON-RPC 2.0
over it. Connect opens the transport and performs the initialize handshake;
after that the session is Ready and requests may be issued concurrently.
Responses are matched to requests by id, so they may arrive in any order.

	sess := mcp.NewSession(mcp.SessionConfig{Spec: spec, Logger: logger})
	if err := sess.Connect(ctx); err != nil {
	    return err
	}
	result, err := sess.CallTool(ctx, "read_file", map[string]any{"path": "/etc/hosts"})

Cancelling a request's context resolves it with a Cancelled error and sends
notifications/cancelled to the server. When the transport ends, every
in-flight request resolves with TransportLost and the session becomes Failed.

# Registry

A Registry maps server names to sessions, creating each lazily on first
Get. Concurrent Get calls for one name share a single handshake. A Failed
session is replaced on the next Get.

	reg, err := mcp.NewRegistry(mcp.RegistryConfig{Specs: specs, Logger: logger})
	sess, err := reg.Get(ctx, "filesystem")
	...
	results, err := reg.ShutdownAll(ctx)

# Errors

Every failure surfaced by this package is an *MCPError carrying an
ErrorCode. Use errors.Is with the Err* sentinels or CodeOf to branch on it.

# Development

A Watcher restarts sessions whose ServerSpec.Watch paths change on disk.
*/
package mcp
