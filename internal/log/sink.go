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

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink is a destination for events. Write is only ever called from the
// EventLogger worker, so implementations need no locking of their own unless
// they are shared.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// Transport names accepted in SinkConfig.Transports.
const (
	TransportConsole = "console"
	TransportFile    = "file"
	TransportNone    = "none"
)

// SinkConfig selects and configures sinks for a run.
type SinkConfig struct {
	// Transports lists sink kinds: console, file, none.
	Transports []string

	// Format applies to every sink. Default: json for file, text for console.
	Format Format

	// Console is the console writer. Default: os.Stderr
	Console io.Writer

	// Path is the file sink's path. "{unique_id}" is replaced with RunID.
	Path string

	// RunID substitutes into Path.
	RunID string
}

// OpenSinks builds the sinks named in cfg. On error, already opened sinks are
// closed.
func OpenSinks(cfg SinkConfig) ([]Sink, error) {
	var sinks []Sink
	for _, t := range cfg.Transports {
		switch strings.ToLower(t) {
		case TransportConsole:
			format := cfg.Format
			if format == "" {
				format = FormatText
			}
			sinks = append(sinks, NewConsoleSink(cfg.Console, format))
		case TransportFile:
			path := ResolvePath(cfg.Path, cfg.RunID)
			if path == "" {
				closeAll(sinks)
				return nil, fmt.Errorf("file log transport requires a path")
			}
			format := cfg.Format
			if format == "" {
				format = FormatJSON
			}
			fs, err := NewFileSink(path, format)
			if err != nil {
				closeAll(sinks)
				return nil, err
			}
			sinks = append(sinks, fs)
		case TransportNone, "":
		default:
			closeAll(sinks)
			return nil, fmt.Errorf("unknown log transport %q", t)
		}
	}
	return sinks, nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// ResolvePath substitutes the run id into a path pattern.
func ResolvePath(pattern, runID string) string {
	return strings.ReplaceAll(pattern, "{unique_id}", runID)
}

// HandlerSink renders events through a slog.Handler.
type HandlerSink struct {
	handler slog.Handler
	closer  io.Closer
}

// NewHandlerSink wraps h. closer may be nil.
func NewHandlerSink(h slog.Handler, closer io.Closer) *HandlerSink {
	return &HandlerSink{handler: h, closer: closer}
}

// NewConsoleSink writes events to w (os.Stderr when nil). Level filtering is
// the EventLogger's job, so the handler accepts everything.
func NewConsoleSink(w io.Writer, format Format) *HandlerSink {
	if w == nil {
		w = os.Stderr
	}
	return NewHandlerSink(NewHandler(&Config{Level: "trace", Format: format, Output: w}), nil)
}

// NewFileSink appends events to path, creating parent directories.
func NewFileSink(path string, format Format) (*HandlerSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewHandlerSink(NewHandler(&Config{Level: "trace", Format: format, Output: f}), f), nil
}

// Write implements Sink.
func (s *HandlerSink) Write(ctx context.Context, ev Event) error {
	if !s.handler.Enabled(ctx, ev.Level) {
		return nil
	}
	r := slog.NewRecord(ev.Time, ev.Level, ev.Message, 0)
	if ev.RunID != "" {
		r.AddAttrs(slog.String(RunIDKey, ev.RunID))
	}
	if ev.Component != "" {
		r.AddAttrs(slog.String(ComponentKey, ev.Component))
	}
	r.AddAttrs(ev.Attrs...)
	return s.handler.Handle(ctx, r)
}

// Close implements Sink.
func (s *HandlerSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// MemorySink keeps events in memory. Tests use it to assert on emitted events.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Attr returns the value of the first attribute named key, if any.
func (ev Event) Attr(key string) (slog.Value, bool) {
	for _, a := range ev.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}
