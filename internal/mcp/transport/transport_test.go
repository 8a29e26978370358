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
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"

	"github.com/tombee/mcpagent/internal/lifecycle"
)

const helperEnv = "MCPAGENT_TRANSPORT_HELPER"

// TestMain lets the test binary double as a stdio server.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "echo":
		fmt.Fprintln(os.Stderr, "echo server ready")
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			fmt.Println(sc.Text())
		}
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		_, _ = io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Hour)
		os.Exit(0)
	case "crash":
		os.Exit(3)
	case "orphan":
		// The grandchild inherits stdout and outlives this process.
		child := exec.Command("sleep", "10")
		child.Stdout = os.Stdout
		_ = child.Start()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperConfig(mode string) Config {
	return Config{
		Name:    "helper",
		Kind:    KindStdio,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     []string{helperEnv + "=" + mode},
	}
}

func next(t *testing.T, tr Transport) []byte {
	t.Helper()
	got := make(chan []byte, 1)
	go func() {
		for frame := range tr.Receive() {
			got <- frame
			return
		}
		close(got)
	}()
	select {
	case frame, ok := <-got:
		require.True(t, ok, "stream ended")
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr string
	}{
		{name: "stdio", cfg: Config{Kind: KindStdio, Command: "x"}, want: &Stdio{}},
		{name: "default kind is stdio", cfg: Config{Command: "x"}, want: &Stdio{}},
		{name: "sse", cfg: Config{Kind: KindSSE, URL: "http://x"}, want: &SSE{}},
		{name: "websocket", cfg: Config{Kind: KindWebSocket, URL: "ws://x"}, want: &WebSocket{}},
		{name: "stdio without command", cfg: Config{Kind: KindStdio}, wantErr: "requires a command"},
		{name: "sse without url", cfg: Config{Kind: KindSSE}, wantErr: "requires a url"},
		{name: "unknown", cfg: Config{Kind: "grpc"}, wantErr: "unsupported transport kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, tr)
		})
	}
}

func TestStdio_RoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}

	var mu sync.Mutex
	var stderr []string
	cfg := helperConfig("echo")
	cfg.Stderr = func(line string) {
		mu.Lock()
		stderr = append(stderr, line)
		mu.Unlock()
	}

	tr := NewStdio(cfg)
	require.NoError(t, tr.Open(context.Background()))
	assert.NotZero(t, tr.Pid())
	assert.ErrorIs(t, tr.Open(context.Background()), ErrAlreadyOpened)

	frames := make(chan []byte, 4)
	go func() {
		for f := range tr.Receive() {
			frames <- f
		}
		close(frames)
	}()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))

	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(<-frames))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, string(<-frames))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	// Sequence ends after close.
	for range frames {
	}
	assert.ErrorIs(t, tr.Send(context.Background(), []byte("{}")), ErrClosed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stderr) == 1 && stderr[0] == "echo server ready"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStdio_PeerExitEndsStream(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}

	tr := NewStdio(helperConfig("crash"))
	require.NoError(t, tr.Open(context.Background()))

	done := make(chan struct{})
	go func() {
		for range tr.Receive() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end when the process exited")
	}
	assert.ErrorIs(t, tr.Err(), io.EOF)
	require.NoError(t, tr.Close())
}

func TestStdio_CloseEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}

	cfg := helperConfig("stubborn")
	cfg.GracePeriod = 200 * time.Millisecond
	tr := NewStdio(cfg)
	require.NoError(t, tr.Open(context.Background()))
	// Let the child install its signal handler.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	require.NoError(t, tr.Close())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	select {
	case <-tr.Exited():
	default:
		t.Fatal("process still running after Close")
	}
}

func TestStdio_CloseWithOrphanedPipe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
	if testing.Short() {
		t.Skip("waits out the kill timeout")
	}

	cfg := helperConfig("orphan")
	cfg.GracePeriod = 50 * time.Millisecond
	tr := NewStdio(cfg)
	require.NoError(t, tr.Open(context.Background()))

	ended := make(chan struct{})
	go func() {
		for range tr.Receive() {
		}
		close(ended)
	}()

	done := make(chan error, 1)
	go func() { done <- tr.Close() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, lifecycle.ErrShutdownTimeout)
	case <-time.After(15 * time.Second):
		t.Fatal("Close blocked on a pipe held by a grandchild")
	}
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after Close")
	}
}

func TestStdio_OpenFailure(t *testing.T) {
	tr := NewStdio(Config{Kind: KindStdio, Command: "/nonexistent/mcp-server"})
	err := tr.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")

	for range tr.Receive() {
		t.Fatal("no frames expected")
	}
	require.NoError(t, tr.Close())
}

func TestClose_BeforeOpen(t *testing.T) {
	for _, tr := range []Transport{
		NewStdio(Config{Command: "x"}),
		NewSSE(Config{URL: "http://127.0.0.1:1"}),
		NewWebSocket(Config{URL: "ws://127.0.0.1:1"}),
	} {
		require.NoError(t, tr.Close())
		assert.ErrorIs(t, tr.Open(context.Background()), ErrClosed)
		assert.ErrorIs(t, tr.Send(context.Background(), []byte("{}")), ErrClosed)
		for range tr.Receive() {
			t.Fatal("no frames expected")
		}
	}
}

// sseEchoServer streams every POSTed body back as a message event.
type sseEchoServer struct {
	posted  chan string
	headers chan http.Header

	// When set, each POST signals arrived and waits for release.
	arrived chan struct{}
	release chan struct{}
}

func newSSEEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return serveSSE(t, &sseEchoServer{})
}

func serveSSE(t *testing.T, s *sseEchoServer) *httptest.Server {
	t.Helper()
	s.posted = make(chan string, 16)
	s.headers = make(chan http.Header, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		s.headers <- r.Header.Clone()
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		endpoint := &sse.Message{Type: sse.Type("endpoint")}
		endpoint.AppendData("/message?sessionId=abc")
		if err := sess.Send(endpoint); err != nil {
			return
		}
		_ = sess.Flush()

		for {
			select {
			case body := <-s.posted:
				msg := &sse.Message{Type: sse.Type("message")}
				msg.AppendData(body)
				if err := sess.Send(msg); err != nil {
					return
				}
				_ = sess.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") != "abc" {
			http.Error(w, "bad session", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if s.release != nil {
			s.arrived <- struct{}{}
			<-s.release
		}
		s.posted <- string(body)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSSE_RoundTrip(t *testing.T) {
	srv := newSSEEchoServer(t)

	tr := NewSSE(Config{
		Name:    "remote",
		Kind:    KindSSE,
		URL:     srv.URL + "/sse",
		Headers: map[string]string{"Authorization": "Bearer token"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Open(ctx))

	require.NoError(t, tr.Send(ctx, []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, string(next(t, tr)))

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Err(), ErrClosed)
	assert.ErrorIs(t, tr.Send(ctx, []byte("{}")), ErrClosed)
}

func TestSSE_SendOutlivesCallerContext(t *testing.T) {
	s := &sseEchoServer{arrived: make(chan struct{}, 1), release: make(chan struct{})}
	srv := serveSSE(t, s)

	tr := NewSSE(Config{URL: srv.URL + "/sse"})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan error, 1)
	go func() {
		sent <- tr.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	}()

	select {
	case <-s.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("POST never reached the server")
	}
	cancel()
	close(s.release)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return")
	}
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(next(t, tr)))

	// A context that is already done stops the write before it starts.
	assert.ErrorIs(t, tr.Send(ctx, []byte("{}")), context.Canceled)
}

func TestSSE_HeadersSent(t *testing.T) {
	s := &sseEchoServer{headers: make(chan http.Header, 1)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.headers <- r.Header.Clone()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewSSE(Config{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k"}})
	err := tr.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	h := <-s.headers
	assert.Equal(t, "k", h.Get("X-Api-Key"))
	assert.Equal(t, "text/event-stream", h.Get("Accept"))
}

func TestSSE_OpenFailures(t *testing.T) {
	srv := newSSEEchoServer(t)

	t.Run("not found", func(t *testing.T) {
		tr := NewSSE(Config{URL: srv.URL + "/missing"})
		err := tr.Open(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status code: 404")
	})

	t.Run("no endpoint event before context ends", func(t *testing.T) {
		silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer silent.Close()

		tr := NewSSE(Config{URL: silent.URL})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, tr.Open(ctx), context.DeadlineExceeded)
		require.NoError(t, tr.Close())
	})

	t.Run("unreachable", func(t *testing.T) {
		tr := NewSSE(Config{URL: "http://127.0.0.1:1/sse"})
		err := tr.Open(context.Background())
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "failed to connect"))
	})
}

func newWebSocketEchoServer(t *testing.T, gotHeader chan<- http.Header) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotHeader != nil {
			gotHeader <- r.Header.Clone()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_RoundTrip(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := newWebSocketEchoServer(t, headers)

	tr := NewWebSocket(Config{
		Kind:    KindWebSocket,
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Headers: map[string]string{"Authorization": "Bearer t"},
	})
	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, "Bearer t", (<-headers).Get("Authorization"))

	require.NoError(t, tr.Send(context.Background(), []byte(`{"id":1}`)))
	assert.Equal(t, `{"id":1}`, string(next(t, tr)))

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), []byte("{}")), ErrClosed)
}

func TestWebSocket_SendIgnoresCallerDeadline(t *testing.T) {
	srv := newWebSocketEchoServer(t, nil)

	tr := NewWebSocket(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), WriteTimeout: time.Second})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, tr.Send(short, []byte(`{"id":1}`)))
	assert.Equal(t, `{"id":1}`, string(next(t, tr)))

	<-short.Done()
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, tr.Send(short, []byte(`{"id":2}`)), context.DeadlineExceeded)

	// The expired caller deadline never reached the connection.
	require.NoError(t, tr.Send(context.Background(), []byte(`{"id":3}`)))
	assert.Equal(t, `{"id":3}`, string(next(t, tr)))
	require.NoError(t, tr.Err())
}

func TestWebSocket_PeerClose(t *testing.T) {
	srv := newWebSocketEchoServer(t, nil)

	tr := NewWebSocket(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, tr.Open(context.Background()))
	require.NoError(t, tr.Send(context.Background(), []byte("bye")))

	done := make(chan struct{})
	go func() {
		for range tr.Receive() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end on peer close")
	}
	require.Error(t, tr.Err())
	assert.Contains(t, tr.Err().Error(), "peer closed")
	_ = tr.Close()
}

func TestWebSocket_DialFailure(t *testing.T) {
	tr := NewWebSocket(Config{URL: "ws://127.0.0.1:1/"})
	err := tr.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dial websocket")
}
