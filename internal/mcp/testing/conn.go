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

package testing

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/mcpagent/internal/mcp/transport"
)

// Conn is one in-memory connection to a Server. It implements
// transport.Transport.
type Conn struct {
	server *Server

	inbound chan []byte
	done    chan struct{}

	mu       sync.Mutex
	opened   bool
	closed   bool
	ended    bool
	inflight map[string]context.CancelFunc
	endErr   error

	closeOnce sync.Once
	endOnce   sync.Once
	wg        sync.WaitGroup
}

var _ transport.Transport = (*Conn)(nil)

func newConn(s *Server) *Conn {
	return &Conn{
		server:   s,
		inbound:  make(chan []byte, 64),
		done:     make(chan struct{}),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Open implements transport.Transport.
func (c *Conn) Open(ctx context.Context) error {
	c.server.mu.Lock()
	openErr := c.server.openErr
	c.server.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.opened {
		return transport.ErrAlreadyOpened
	}
	if openErr != nil {
		return openErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.opened = true
	return nil
}

// Send implements transport.Transport. Requests are answered on their own
// goroutine, so responses may arrive in any order.
func (c *Conn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	opened, closed, ended := c.opened, c.closed, c.ended
	c.mu.Unlock()
	if closed || ended {
		return transport.ErrClosed
	}
	if !opened {
		return transport.ErrNotOpen
	}

	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	c.server.record(f)

	if len(f.ID) == 0 {
		c.notification(f)
		return nil
	}
	if f.Method == "" {
		// A reply to a server-initiated request.
		return nil
	}

	fn, ok := c.server.handler(f.Method)
	if !ok {
		c.reply(f.ID, nil, &RPCError{Code: -32601, Message: "method not found"})
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.inflight[string(f.ID)] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		result, err := fn(ctx, f.Params)

		c.mu.Lock()
		delete(c.inflight, string(f.ID))
		c.mu.Unlock()

		if errors.Is(err, ErrNoReply) {
			return
		}
		c.reply(f.ID, result, err)
	}()
	return nil
}

func (c *Conn) notification(f Frame) {
	if f.Method != "notifications/cancelled" {
		return
	}
	var p struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if json.Unmarshal(f.Params, &p) != nil {
		return
	}
	c.mu.Lock()
	cancel, ok := c.inflight[string(p.RequestID)]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Conn) reply(id json.RawMessage, result any, err error) {
	msg := map[string]any{"jsonrpc": mcp.JSONRPC_VERSION, "id": id}
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: -32603, Message: err.Error()}
		}
		msg["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
	} else {
		msg["result"] = result
	}
	b, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	c.push(b)
}

// Inject delivers a raw frame to the client as if the server sent it.
func (c *Conn) Inject(frame []byte) bool {
	return c.push(frame)
}

// Notify delivers a server notification.
func (c *Conn) Notify(method string, params any) bool {
	b, err := json.Marshal(map[string]any{"jsonrpc": mcp.JSONRPC_VERSION, "method": method, "params": params})
	if err != nil {
		return false
	}
	return c.push(b)
}

func (c *Conn) push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	select {
	case c.inbound <- frame:
		return true
	case <-c.done:
		return false
	}
}

// Drop ends the inbound stream without a Close, as if the server crashed.
func (c *Conn) Drop(err error) {
	c.end(err)
}

func (c *Conn) end(err error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		c.endErr = err
		for _, cancel := range c.inflight {
			cancel()
		}
		close(c.inbound)
		c.mu.Unlock()
	})
}

// Receive implements transport.Transport.
func (c *Conn) Receive() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case frame, ok := <-c.inbound:
				if !ok {
					return
				}
				if !yield(frame) {
					return
				}
			case <-c.done:
				return
			}
		}
	}
}

// Err implements transport.ErrReporter.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endErr
}

// Close implements transport.Transport.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.end(transport.ErrClosed)
	})
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Opened reports whether Open succeeded.
func (c *Conn) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}
