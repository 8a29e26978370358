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

// Package testing provides an in-memory MCP peer for exercising sessions,
// registries and orchestrators without processes or sockets.
//
// A Server is a scripted tool server. Its Factory method plugs into
// SessionConfig.NewTransport or RegistryConfig.NewTransport; every connect
// builds a fresh Conn so reconnect behaviour can be observed.
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/mcpagent/internal/mcp/transport"
)

// ErrNoReply makes a handler's request go unanswered.
var ErrNoReply = errors.New("no reply")

// RPCError lets a handler answer with a specific JSON-RPC error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }

// HandlerFunc answers one request. Returning ErrNoReply suppresses the
// response; an *RPCError becomes a JSON-RPC error; any other error becomes an
// internal error response. ctx is cancelled when the client sends
// notifications/cancelled for this request or the connection closes.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// ToolFunc implements one tool.
type ToolFunc func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// Frame is a decoded frame the client sent.
type Frame struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Server is a scripted MCP server.
type Server struct {
	Name    string
	Version string

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	tools    map[string]ToolFunc
	openErr  error
	conns    []*Conn
	frames   []Frame
}

// NewServer creates a server that answers initialize, ping, tools/list and
// tools/call out of the box.
func NewServer(name string) *Server {
	s := &Server{
		Name:     name,
		Version:  "1.0.0",
		handlers: make(map[string]HandlerFunc),
		tools:    make(map[string]ToolFunc),
	}
	s.handlers[string(mcp.MethodInitialize)] = s.initialize
	s.handlers[string(mcp.MethodPing)] = func(context.Context, json.RawMessage) (any, error) {
		return struct{}{}, nil
	}
	s.handlers[string(mcp.MethodToolsList)] = s.listTools
	s.handlers[string(mcp.MethodToolsCall)] = s.callTool
	return s
}

// Handle overrides the handler for method.
func (s *Server) Handle(method string, fn HandlerFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
	return s
}

// Tool registers a tool.
func (s *Server) Tool(name string, fn ToolFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = fn
	return s
}

// FailOpen makes every subsequent Open return err. Nil restores success.
func (s *Server) FailOpen(err error) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
	return s
}

// Factory returns a transport factory that connects to s.
func (s *Server) Factory() func(transport.Config) (transport.Transport, error) {
	return func(transport.Config) (transport.Transport, error) {
		c := newConn(s)
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		return c, nil
	}
}

// Conns returns every connection built so far, oldest first.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// LastConn returns the newest connection, or nil.
func (s *Server) LastConn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Frames returns every frame received with the given method, across
// connections. An empty method returns all frames.
func (s *Server) Frames(method string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if method == "" || f.Method == method {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) record(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *Server) handler(method string) (HandlerFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.handlers[method]
	return fn, ok
}

func (s *Server) initialize(context.Context, json.RawMessage) (any, error) {
	return mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ServerInfo: mcp.Implementation{
			Name:    s.Name,
			Version: s.Version,
		},
	}, nil
}

func (s *Server) listTools(context.Context, json.RawMessage) (any, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	tools := make([]mcp.Tool, len(names))
	for i, name := range names {
		tools[i] = mcp.NewTool(name, mcp.WithDescription("test tool "+name))
	}
	return map[string]any{"tools": tools}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: -32602, Message: "invalid params"}
	}

	s.mu.Lock()
	fn, ok := s.tools[p.Name]
	s.mu.Unlock()
	if !ok {
		return nil, &RPCError{Code: -32602, Message: "unknown tool: " + p.Name}
	}
	return fn(ctx, p.Arguments)
}

// Text is a ToolFunc that always answers with text.
func Text(text string) ToolFunc {
	return func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(text), nil
	}
}

// Echo is a ToolFunc that answers with the "text" argument.
func Echo() ToolFunc {
	return func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprint(args["text"])), nil
	}
}

// Block is a ToolFunc that never answers until the call is cancelled.
func Block() ToolFunc {
	return func(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ErrNoReply
	}
}
