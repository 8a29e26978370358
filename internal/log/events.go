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
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrLoggerClosed is returned by Emit after Shutdown has begun.
var ErrLoggerClosed = errors.New("event logger is shut down")

// Event is a single append-only log record.
type Event struct {
	Time      time.Time
	Level     slog.Level
	Component string
	RunID     string
	Message   string
	Attrs     []slog.Attr
}

// EventLoggerConfig configures an EventLogger.
type EventLoggerConfig struct {
	// RunID tags every event. See NewRunID.
	RunID string

	// Level is the severity threshold. Events below it are filtered, not queued.
	Level slog.Level

	// Sinks receive every queued event in order.
	Sinks []Sink

	// OnSinkError is called from the worker goroutine when a sink write fails.
	OnSinkError func(Sink, error)
}

// EventLogger is a run-scoped asynchronous event sink.
//
// Emit appends to an unbounded FIFO queue and returns immediately; a single
// worker goroutine drains the queue into the sinks. Nothing accepted by Emit is
// dropped: Shutdown waits for the queue to empty before closing the sinks.
type EventLogger struct {
	runID       string
	level       slog.Level
	sinks       []Sink
	onSinkError func(Sink, error)

	mu     sync.Mutex
	queue  []Event
	closed bool

	signal chan struct{}
	done   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewEventLogger creates an EventLogger and starts its worker.
func NewEventLogger(cfg EventLoggerConfig) *EventLogger {
	l := &EventLogger{
		runID:       cfg.RunID,
		level:       cfg.Level,
		sinks:       cfg.Sinks,
		onSinkError: cfg.OnSinkError,
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go l.run()
	return l
}

// RunID returns the run-scoped unique id.
func (l *EventLogger) RunID() string {
	return l.runID
}

// Enabled reports whether events at level pass the threshold.
func (l *EventLogger) Enabled(level slog.Level) bool {
	return level >= l.level
}

// Emit queues ev without blocking. Zero Time and RunID are filled in.
func (l *EventLogger) Emit(ev Event) error {
	if !l.Enabled(ev.Level) {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.RunID == "" {
		ev.RunID = l.runID
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoggerClosed
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	l.wake()
	return nil
}

// Pending returns the number of events not yet handed to the sinks.
func (l *EventLogger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Shutdown stops accepting events, waits until every queued event has been
// written, then closes the sinks. If ctx ends first the sinks stay open and
// the worker keeps draining in the background.
func (l *EventLogger) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wake()

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.shutdownOnce.Do(func() {
		var errs []error
		for _, s := range l.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		l.shutdownErr = errors.Join(errs...)
	})
	return l.shutdownErr
}

func (l *EventLogger) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *EventLogger) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, ev := range batch {
			l.write(ev)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.signal
		}
	}
}

func (l *EventLogger) write(ev Event) {
	for _, s := range l.sinks {
		if err := s.Write(context.Background(), ev); err != nil && l.onSinkError != nil {
			l.onSinkError(s, err)
		}
	}
}

// Slog returns a *slog.Logger whose records become events on l.
// A "component" attribute is lifted into Event.Component.
func (l *EventLogger) Slog() *slog.Logger {
	return slog.New(&eventHandler{logger: l})
}

type eventHandler struct {
	logger    *EventLogger
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *eventHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Enabled(level)
}

func (h *eventHandler) Handle(_ context.Context, r slog.Record) error {
	ev := Event{
		Time:      r.Time,
		Level:     r.Level,
		Component: h.component,
		Message:   r.Message,
		Attrs:     make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs()),
	}
	ev.Attrs = append(ev.Attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if len(h.groups) == 0 && a.Key == ComponentKey {
			ev.Component = a.Value.String()
			return true
		}
		ev.Attrs = append(ev.Attrs, h.qualify(a))
		return true
	})
	err := h.logger.Emit(ev)
	if errors.Is(err, ErrLoggerClosed) {
		// Late records from goroutines that outlive the run are not an error
		// for the caller of slog.
		return nil
	}
	return err
}

func (h *eventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		if len(h.groups) == 0 && a.Key == ComponentKey {
			next.component = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return next
}

func (h *eventHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *eventHandler) clone() *eventHandler {
	return &eventHandler{
		logger:    h.logger,
		component: h.component,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
	}
}

func (h *eventHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}
