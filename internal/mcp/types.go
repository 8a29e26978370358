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

package mcp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/tombee/mcpagent/internal/mcp/transport"
)

// ServerNameRegex validates MCP server names.
// Names must start with a letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// DefaultHandshakeTimeout bounds the initialize exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// ServerSpec is the validated, immutable description of one tool server.
type ServerSpec struct {
	// Name is the unique identifier callers route by.
	Name string

	// Transport selects the channel variant.
	Transport transport.Kind

	// Command, Args, Env and Dir describe a stdio server.
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// URL and Headers describe a remote server. Headers usually carry credentials.
	URL     string
	Headers map[string]string

	// HandshakeTimeout bounds initialize. Default: DefaultHandshakeTimeout
	HandshakeTimeout time.Duration

	// GracePeriod is the SIGTERM to SIGKILL window for stdio servers.
	GracePeriod time.Duration

	// Watch lists source paths; a change restarts the session in dev mode.
	Watch []string
}

// Validate checks the spec's required fields for its transport.
func (s ServerSpec) Validate() error {
	if !ServerNameRegex.MatchString(s.Name) {
		return ErrInvalidServerName(s.Name)
	}
	switch s.Transport {
	case transport.KindStdio, "":
		if s.Command == "" {
			return ErrInvalidConfig(s.Name, "command is required for stdio servers")
		}
	case transport.KindSSE, transport.KindWebSocket:
		if s.URL == "" {
			return ErrInvalidConfig(s.Name, fmt.Sprintf("url is required for %s servers", s.Transport))
		}
	default:
		return ErrInvalidConfig(s.Name, fmt.Sprintf("unsupported transport %q", s.Transport))
	}
	if s.HandshakeTimeout < 0 {
		return ErrInvalidConfig(s.Name, "handshake timeout must not be negative")
	}
	return nil
}

// Equal reports whether two specs describe the same server.
func (s ServerSpec) Equal(o ServerSpec) bool {
	return reflect.DeepEqual(s, o)
}

func (s ServerSpec) handshakeTimeout() time.Duration {
	if s.HandshakeTimeout > 0 {
		return s.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

// envList renders Env as sorted KEY=VALUE pairs.
func (s ServerSpec) envList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// ToolDefinition describes a tool exposed by a server.
type ToolDefinition struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description,omitempty"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolCallRequest is a routed tool invocation. Cancellation travels in the
// context passed alongside it.
type ToolCallRequest struct {
	Server    string         `json:"server"`
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is a tool's response.
type ToolCallResult struct {
	// RequestID is the JSON-RPC id the call used on its session.
	RequestID int64 `json:"request_id"`

	Server    string `json:"server"`
	Operation string `json:"operation"`

	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates the tool itself reported failure. This is a
	// successful protocol exchange, not a Go error.
	IsError bool `json:"isError,omitempty"`

	// Structured is the optional structuredContent payload.
	Structured any `json:"structuredContent,omitempty"`

	// Raw is the unparsed result object.
	Raw json.RawMessage `json:"-"`

	// Latency is the time from send to response.
	Latency time.Duration `json:"latency"`
}

// Text concatenates the text content items.
func (r *ToolCallResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, audio, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image" and "audio")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`

	// URI is set for embedded resources and resource links
	URI string `json:"uri,omitempty"`
}

// ServerCapabilities describes what features an MCP server supports.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	// ListChanged indicates if the server sends notifications when tools change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes prompt-related capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo is what the server reported during the handshake.
type ServerInfo struct {
	Name            string             `json:"name"`
	Version         string             `json:"version"`
	ProtocolVersion string             `json:"protocolVersion"`
	Instructions    string             `json:"instructions,omitempty"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}
