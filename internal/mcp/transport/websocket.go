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

	"github.com/gorilla/websocket"
)

// closeWait bounds the close handshake write.
const closeWait = time.Second

// WebSocket connects to a remote server that exchanges one text message per
// frame.
type WebSocket struct {
	cfg    Config
	logger *slog.Logger
	in     *inbox
	dialer *websocket.Dialer

	mu     sync.Mutex
	opened bool
	closed bool
	conn   *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket creates an unopened WebSocket transport.
func NewWebSocket(cfg Config) *WebSocket {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		cfg:    cfg,
		logger: logger.With("transport", string(KindWebSocket)),
		in:     newInbox(),
		dialer: websocket.DefaultDialer,
	}
}

// Open dials the server with the configured headers.
func (t *WebSocket) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.opened {
		return ErrAlreadyOpened
	}
	t.opened = true

	header := http.Header{}
	setHeaders(header, t.cfg.Headers)

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		t.in.finish(err)
		if resp != nil {
			return fmt.Errorf("failed to dial websocket (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	t.conn = conn

	go t.readLoop(conn)
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case t.in.isClosing():
				t.in.finish(ErrClosed)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				t.in.finish(fmt.Errorf("peer closed: %w", err))
			default:
				t.in.finish(fmt.Errorf("read websocket: %w", err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if !t.in.push(data) {
			t.in.finish(ErrClosed)
			return
		}
	}
}

// Send writes frame as a single text message. A ctx deadline becomes the
// write deadline.
func (t *WebSocket) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout(t.cfg))); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// A failed write leaves the connection unusable. Closing it ends the
		// read loop so the stream reports the loss.
		_ = conn.Close()
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (t *WebSocket) Receive() iter.Seq[[]byte] {
	return t.in.seq()
}

// Err implements ErrReporter.
func (t *WebSocket) Err() error {
	return t.in.Err()
}

// Close sends a close frame and closes the connection.
func (t *WebSocket) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.mu.Unlock()

		t.in.shut()
		if conn == nil {
			t.in.finish(ErrClosed)
			return
		}

		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			t.logger.Debug("close frame not sent", "server", t.cfg.Name, "error", err)
		}
		t.writeMu.Unlock()

		t.closeErr = conn.Close()
	})
	return t.closeErr
}
