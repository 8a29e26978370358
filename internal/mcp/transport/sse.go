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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/tombee/mcpagent/pkg/httpclient"
)

// SSE connects to a remote server that streams frames as Server-Sent Events.
// The first "endpoint" event names the URL that outbound frames are POSTed to;
// each "message" event carries one inbound frame.
type SSE struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	in     *inbox

	mu       sync.Mutex
	opened   bool
	closed   bool
	endpoint string
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
}

// NewSSE creates an unopened SSE transport.
func NewSSE(cfg Config) *SSE {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Logger = logger
		client, _ = httpclient.New(hc) // DefaultConfig always validates
	}
	return &SSE{
		cfg:    cfg,
		client: client,
		logger: logger.With("transport", string(KindSSE)),
		in:     newInbox(),
	}
}

// Open issues the GET for the event stream and waits for the endpoint event.
func (t *SSE) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.opened {
		t.mu.Unlock()
		return ErrAlreadyOpened
	}
	t.opened = true
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		t.in.finish(err)
		close(t.done)
		return fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req.Header, t.cfg.Headers)
	req.Header.Set("Accept", "text/event-stream")

	// The stream is bound to streamCtx; ctx only bounds the connect phase.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		t.in.finish(err)
		close(t.done)
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		t.in.finish(err)
		close(t.done)
		return err
	}

	ready := make(chan error, 1)
	go t.readLoop(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (t *SSE) readLoop(body io.ReadCloser, ready chan<- error) {
	defer close(t.done)
	defer body.Close()

	announced := false
	var streamErr error

loop:
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			streamErr = err
			break
		}

		switch ev.Type {
		case "endpoint":
			endpoint, err := t.resolve(ev.Data)
			if err != nil {
				streamErr = err
				break loop
			}
			t.mu.Lock()
			t.endpoint = endpoint
			t.mu.Unlock()
			if !announced {
				announced = true
				ready <- nil
			}
		case "message", "":
			if !announced {
				t.logger.Warn("received message before endpoint", "server", t.cfg.Name)
				continue
			}
			if !t.in.push([]byte(ev.Data)) {
				streamErr = ErrClosed
				break loop
			}
		default:
			t.logger.Debug("ignoring event", "server", t.cfg.Name, "type", ev.Type)
		}
	}

	if streamErr == nil {
		streamErr = io.EOF
	}
	if t.in.isClosing() || errors.Is(streamErr, context.Canceled) {
		streamErr = ErrClosed
	}
	if !announced {
		ready <- fmt.Errorf("stream ended before endpoint event: %w", streamErr)
	}
	t.in.finish(streamErr)
}

// resolve turns the endpoint event's data into an absolute URL.
func (t *SSE) resolve(data string) (string, error) {
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	ref, err := url.Parse(data)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	u := base.ResolveReference(ref)
	if u.String() == "" {
		return "", errors.New("empty endpoint URL")
	}
	return u.String(), nil
}

// Send POSTs one frame to the endpoint.
func (t *SSE) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	endpoint, closed := t.endpoint, t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if endpoint == "" {
		return ErrNotOpen
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// The POST is not tied to the caller once it starts.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout(t.cfg))
	defer cancel()

	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, endpoint, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	setHeaders(req.Header, t.cfg.Headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Receive implements Transport.
func (t *SSE) Receive() iter.Seq[[]byte] {
	return t.in.seq()
}

// Err implements ErrReporter.
func (t *SSE) Err() error {
	return t.in.Err()
}

// Close cancels the event stream.
func (t *SSE) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		cancel, done := t.cancel, t.done
		t.mu.Unlock()

		t.in.shut()
		if cancel == nil {
			t.in.finish(ErrClosed)
			return
		}
		cancel()
		<-done
		t.in.finish(ErrClosed)
	})
	return nil
}
