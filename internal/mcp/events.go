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
	"context"
	"log/slog"
	"sync"
	"time"

	agentlog "github.com/tombee/mcpagent/internal/log"
)

// EventType represents the type of server lifecycle event.
type EventType string

const (
	// EventConnected indicates a session completed its handshake.
	EventConnected EventType = "connected"
	// EventFailed indicates a connect attempt failed or the transport was lost.
	EventFailed EventType = "failed"
	// EventClosed indicates a session was closed.
	EventClosed EventType = "closed"
	// EventReconnecting indicates a lazy reconnect is being attempted.
	EventReconnecting EventType = "reconnecting"
	// EventRestarting indicates a session is being restarted on request.
	EventRestarting EventType = "restarting"
	// EventToolsChanged indicates the server's tool list has changed.
	EventToolsChanged EventType = "tools_changed"
)

// ServerEvent represents a lifecycle event for one server.
type ServerEvent struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// Server is the name of the server.
	Server string `json:"server"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// EventEmitter logs server events and fans them out to subscribers.
// A nil *EventEmitter discards events.
type EventEmitter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(ServerEvent)
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		logger: logger.With("component", "events"),
		subs:   make(map[int]func(ServerEvent)),
	}
}

// Subscribe registers fn for every subsequent event. Subscribers are called
// synchronously and must not block. The returned func unsubscribes.
func (e *EventEmitter) Subscribe(fn func(ServerEvent)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit logs an event and delivers it to subscribers.
func (e *EventEmitter) Emit(event ServerEvent) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		agentlog.ServerKey, event.Server,
		agentlog.EventKey, string(event.Type),
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	if event.Type == EventFailed {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "server event", attrs...)

	e.mu.RLock()
	subs := make([]func(ServerEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

// EmitConnected emits a connected event.
func (e *EventEmitter) EmitConnected(server string, info *ServerInfo) {
	details := map[string]any{}
	if info != nil {
		details["server_name"] = info.Name
		details["protocol"] = info.ProtocolVersion
	}
	e.Emit(ServerEvent{
		Type:    EventConnected,
		Server:  server,
		Message: "Session ready",
		Details: details,
	})
}

// EmitFailed emits a failed event.
func (e *EventEmitter) EmitFailed(server string, err error) {
	e.Emit(ServerEvent{
		Type:    EventFailed,
		Server:  server,
		Message: "Session failed",
		Details: map[string]any{
			"error": err.Error(),
			"code":  string(CodeOf(err)),
		},
	})
}

// EmitClosed emits a closed event.
func (e *EventEmitter) EmitClosed(server string) {
	e.Emit(ServerEvent{
		Type:    EventClosed,
		Server:  server,
		Message: "Session closed",
	})
}

// EmitReconnecting emits a reconnecting event.
func (e *EventEmitter) EmitReconnecting(server string, cause error) {
	details := map[string]any{}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	e.Emit(ServerEvent{
		Type:    EventReconnecting,
		Server:  server,
		Message: "Reconnecting",
		Details: details,
	})
}

// EmitRestarting emits a restarting event.
func (e *EventEmitter) EmitRestarting(server, reason string) {
	e.Emit(ServerEvent{
		Type:    EventRestarting,
		Server:  server,
		Message: "Session restarting",
		Details: map[string]any{"reason": reason},
	})
}

// EmitToolsChanged emits a tools changed event.
func (e *EventEmitter) EmitToolsChanged(server string) {
	e.Emit(ServerEvent{
		Type:    EventToolsChanged,
		Server:  server,
		Message: "Server tools changed",
	})
}
