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

// Package transport normalizes tool-server channels into a single frame
// oriented interface.
//
// A frame is one complete JSON-RPC message. Three variants exist: a child
// process speaking newline-delimited JSON on stdin/stdout, a remote server
// speaking Server-Sent Events for inbound frames plus HTTP POST for outbound
// ones, and a remote WebSocket server with one text message per frame.
//
// Transports are single-use. Once Receive's sequence ends or Close is called,
// a new Transport must be built to reconnect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds a remote frame write when Config leaves it unset.
const DefaultWriteTimeout = 10 * time.Second

// Kind selects a transport variant.
type Kind string

const (
	// KindStdio runs the server as a child process.
	KindStdio Kind = "stdio"
	// KindSSE connects to a remote Server-Sent Events endpoint.
	KindSSE Kind = "sse"
	// KindWebSocket connects to a remote WebSocket endpoint.
	KindWebSocket Kind = "websocket"
)

var (
	// ErrClosed is returned when using a transport after Close.
	ErrClosed = errors.New("transport closed")
	// ErrNotOpen is returned by Send before Open succeeds.
	ErrNotOpen = errors.New("transport not open")
	// ErrAlreadyOpened is returned when Open is called twice.
	ErrAlreadyOpened = errors.New("transport already opened")
	// ErrUnsupportedKind is returned by New for unknown kinds.
	ErrUnsupportedKind = errors.New("unsupported transport kind")
)

// Transport carries frames between the runtime and one tool server.
type Transport interface {
	// Open spawns or dials the server. ctx bounds only the connect phase.
	Open(ctx context.Context) error

	// Send writes one frame. A frame is never interleaved with another.
	// ctx is checked before the write starts; a write in progress is bounded
	// by the transport's own WriteTimeout, never cut short by ctx. An error
	// from a started write means the transport is no longer usable.
	Send(ctx context.Context, frame []byte) error

	// Receive returns the inbound frames. The sequence ends when the peer
	// closes or the transport is closed. It has a single consumer.
	Receive() iter.Seq[[]byte]

	// Close releases the transport. It is idempotent.
	Close() error
}

// Config describes how to reach a server.
type Config struct {
	// Name labels log lines. Usually the server name.
	Name string

	Kind Kind

	// Command, Args, Env and Dir apply to stdio. Env entries are KEY=VALUE
	// and are appended to the parent environment.
	Command string
	Args    []string
	Env     []string
	Dir     string

	// GracePeriod is the SIGTERM to SIGKILL window for stdio.
	// Default: lifecycle.DefaultGracePeriod
	GracePeriod time.Duration

	// Stderr receives each stderr line of a stdio server.
	Stderr func(line string)

	// URL and Headers apply to sse and websocket.
	URL     string
	Headers map[string]string

	// WriteTimeout bounds one remote frame write (a WebSocket message or an
	// SSE POST). Default: DefaultWriteTimeout
	WriteTimeout time.Duration

	// HTTPClient is used by sse. Default: httpclient.New(httpclient.DefaultConfig()).
	HTTPClient *http.Client

	// Logger for transport diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// New builds an unopened transport for cfg.
func New(cfg Config) (Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	switch cfg.Kind {
	case KindStdio, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return NewStdio(cfg), nil
	case KindSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires a url")
		}
		return NewSSE(cfg), nil
	case KindWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a url")
		}
		return NewWebSocket(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// ErrReporter is implemented by transports that can explain why their
// Receive sequence ended.
type ErrReporter interface {
	Err() error
}

// inbox is the inbound half shared by every variant: a read loop pushes
// frames, one consumer ranges over them.
type inbox struct {
	frames  chan []byte
	closing chan struct{}

	shutOnce   sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

func newInbox() *inbox {
	return &inbox{
		frames:  make(chan []byte),
		closing: make(chan struct{}),
	}
}

// push hands a frame to the consumer. It returns false once the transport is
// closing.
func (b *inbox) push(frame []byte) bool {
	select {
	case b.frames <- frame:
		return true
	case <-b.closing:
		return false
	}
}

// finish ends the sequence. Only the first reason is kept.
func (b *inbox) finish(err error) {
	b.finishOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.frames)
	})
}

func (b *inbox) shut() {
	b.shutOnce.Do(func() { close(b.closing) })
}

func (b *inbox) isClosing() bool {
	select {
	case <-b.closing:
		return true
	default:
		return false
	}
}

// Err returns why the sequence ended, or nil while it is live.
func (b *inbox) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *inbox) seq() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for frame := range b.frames {
			if !yield(frame) {
				return
			}
		}
	}
}

func setHeaders(h http.Header, headers map[string]string) {
	for k, v := range headers {
		h.Set(k, v)
	}
}

func writeTimeout(cfg Config) time.Duration {
	if cfg.WriteTimeout > 0 {
		return cfg.WriteTimeout
	}
	return DefaultWriteTimeout
}
