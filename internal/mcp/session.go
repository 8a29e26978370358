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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	agentlog "github.com/tombee/mcpagent/internal/log"
	"github.com/tombee/mcpagent/internal/mcp/transport"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// State is a session's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosing
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// errSessionClosed is the cause attached to requests drained by Close.
var errSessionClosed = errors.New("session closed")

// TransportFactory builds a transport for a session. Tests substitute fakes.
type TransportFactory func(transport.Config) (transport.Transport, error)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Spec describes the server. Required.
	Spec ServerSpec

	// Logger for session diagnostics. Default: slog.Default()
	Logger *slog.Logger

	// Events receives lifecycle events. Optional.
	Events *EventEmitter

	// Logs captures stdio server stderr. Optional.
	Logs *LogCapture

	// ClientName and ClientVersion are sent in initialize.
	ClientName    string
	ClientVersion string

	// NewTransport overrides transport construction. Default: transport.New
	NewTransport TransportFactory
}

type response struct {
	msg *message
	err error
}

// connectAttempt lets concurrent Connect callers share one handshake.
type connectAttempt struct {
	done chan struct{}
	err  error

	// abandoned is set when the starting caller's context ended the
	// attempt, as opposed to Close or a server failure.
	abandoned bool
}

// Session is one connection to one tool server. It owns exactly one
// transport at a time and correlates requests with responses by id.
type Session struct {
	spec          ServerSpec
	logger        *slog.Logger
	events        *EventEmitter
	logs          *LogCapture
	clientName    string
	clientVersion string
	newTransport  TransportFactory

	nextID atomic.Int64

	mu      sync.Mutex
	state   State
	tr      transport.Transport
	pending map[int64]chan response
	attempt *connectAttempt
	closed  chan struct{} // closed when an in-progress Close finishes
	info    *ServerInfo
	lastErr error
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newTransport := cfg.NewTransport
	if newTransport == nil {
		newTransport = transport.New
	}
	clientName := cfg.ClientName
	if clientName == "" {
		clientName = "mcpagent"
	}
	clientVersion := cfg.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}

	return &Session{
		spec:          cfg.Spec,
		logger:        agentlog.WithServer(agentlog.WithComponent(logger, "session"), cfg.Spec.Name),
		events:        cfg.Events,
		logs:          cfg.Logs,
		clientName:    clientName,
		clientVersion: clientVersion,
		newTransport:  newTransport,
		pending:       make(map[int64]chan response),
	}
}

// Name returns the server name.
func (s *Session) Name() string {
	return s.spec.Name
}

// Spec returns the spec the session was built from.
func (s *Session) Spec() ServerSpec {
	return s.spec
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns what the server reported in the handshake, or nil.
func (s *Session) Info() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// LastError returns the error that last moved the session to Failed.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pending returns the number of in-flight requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Connect opens the transport and performs the initialize handshake.
// Callers arriving while a handshake is in flight wait for its outcome. If
// the caller that started the handshake gives up, waiters whose own context
// is still live start a new attempt instead of sharing its cancellation.
func (s *Session) Connect(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			s.mu.Unlock()
			return nil
		case StateConnecting:
			attempt := s.attempt
			s.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.abandoned && ctx.Err() == nil {
					continue
				}
				return attempt.err
			case <-ctx.Done():
				return NewCancelled(s.spec.Name, string(mcp.MethodInitialize), ctx.Err())
			}
		case StateClosing:
			s.mu.Unlock()
			return NewNotReady(s.spec.Name, StateClosing)
		}

		attempt := &connectAttempt{done: make(chan struct{})}
		s.attempt = attempt
		s.state = StateConnecting
		s.mu.Unlock()

		return s.runAttempt(ctx, attempt)
	}
}

func (s *Session) runAttempt(ctx context.Context, attempt *connectAttempt) error {
	start := time.Now()
	info, err := s.connect(ctx, attempt)

	s.mu.Lock()
	switch {
	case s.attempt != attempt:
		// Close ran while we were connecting.
		err = NewCancelled(s.spec.Name, string(mcp.MethodInitialize), errSessionClosed)
	case err == nil:
		s.state = StateReady
		s.info = info
		s.lastErr = nil
	case CodeOf(err) == CodeCancelled:
		s.state = StateDisconnected
		attempt.abandoned = ctx.Err() != nil
	default:
		s.state = StateFailed
		s.lastErr = err
	}
	attempt.err = err
	if s.attempt == attempt {
		s.attempt = nil
	}
	s.mu.Unlock()
	close(attempt.done)

	if err != nil {
		s.logger.Warn("connect failed", "error", err, agentlog.DurationKey, time.Since(start).Milliseconds())
		s.events.EmitFailed(s.spec.Name, err)
		return err
	}

	s.logger.Info("session ready",
		"server_name", info.Name,
		"server_version", info.Version,
		"protocol", info.ProtocolVersion,
		agentlog.DurationKey, time.Since(start).Milliseconds())
	s.events.EmitConnected(s.spec.Name, info)
	return nil
}

func (s *Session) connect(ctx context.Context, attempt *connectAttempt) (*ServerInfo, error) {
	tr, err := s.newTransport(s.transportConfig())
	if err != nil {
		return nil, NewTransportUnavailable(s.spec.Name, err)
	}
	if err := tr.Open(ctx); err != nil {
		_ = tr.Close()
		if ctx.Err() != nil {
			return nil, NewCancelled(s.spec.Name, string(mcp.MethodInitialize), ctx.Err())
		}
		return nil, NewTransportUnavailable(s.spec.Name, err)
	}

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		_ = tr.Close()
		return nil, NewCancelled(s.spec.Name, string(mcp.MethodInitialize), errSessionClosed)
	}
	s.tr = tr
	s.mu.Unlock()

	go s.readLoop(tr)

	info, err := s.handshake(ctx, tr)
	if err != nil {
		s.detach(tr)
		_ = tr.Close()
		return nil, err
	}
	return info, nil
}

func (s *Session) handshake(ctx context.Context, tr transport.Transport) (*ServerInfo, error) {
	timeout := s.spec.handshakeTimeout()
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := initializeParams(s.clientName, s.clientVersion)
	raw, _, err := s.call(hctx, tr, string(mcp.MethodInitialize), string(mcp.MethodInitialize), params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewCancelled(s.spec.Name, string(mcp.MethodInitialize), ctx.Err())
		}
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			err = &agenterrors.TimeoutError{Operation: "handshake", Duration: timeout, Cause: err}
		}
		return nil, NewHandshakeFailed(s.spec.Name, err)
	}

	info, err := decodeInitializeResult(raw)
	if err != nil {
		return nil, NewHandshakeFailed(s.spec.Name, err)
	}

	frame, err := encodeNotification(notificationInitialized, nil)
	if err != nil {
		return nil, NewInternal(s.spec.Name, notificationInitialized, err)
	}
	if err := s.write(hctx, tr, frame); err != nil {
		return nil, NewHandshakeFailed(s.spec.Name, err)
	}
	return info, nil
}

func (s *Session) transportConfig() transport.Config {
	cfg := transport.Config{
		Name:        s.spec.Name,
		Kind:        s.spec.Transport,
		Command:     s.spec.Command,
		Args:        s.spec.Args,
		Env:         s.spec.envList(),
		Dir:         s.spec.Dir,
		GracePeriod: s.spec.GracePeriod,
		URL:         s.spec.URL,
		Headers:     s.spec.Headers,
		Logger:      s.logger,
	}
	cfg.Stderr = func(line string) {
		s.logger.Debug("server stderr", "line", line)
		if s.logs != nil {
			s.logs.Append(s.spec.Name, line)
		}
	}
	return cfg
}

// Invoke sends a request and waits for its response. The session must be
// Ready. ctx cancellation abandons the request and notifies the server.
func (s *Session) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, _, err := s.invoke(ctx, method, method, params)
	return raw, err
}

func (s *Session) invoke(ctx context.Context, method, op string, params any) (json.RawMessage, int64, error) {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nil, 0, NewNotReady(s.spec.Name, state).WithOperation(op)
	}
	tr := s.tr
	s.mu.Unlock()
	return s.call(ctx, tr, method, op, params)
}

// call registers a pending handle, sends the request and waits. It does not
// check state so the handshake can use it while Connecting.
func (s *Session) call(ctx context.Context, tr transport.Transport, method, op string, params any) (json.RawMessage, int64, error) {
	id := s.nextID.Add(1)
	frame, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, id, &agenterrors.ValidationError{Field: "params", Message: err.Error()}
	}

	ch := make(chan response, 1)
	s.mu.Lock()
	if s.tr != tr {
		s.mu.Unlock()
		return nil, id, NewTransportLost(s.spec.Name, errSessionClosed).WithOperation(op)
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.forget(id)
		return nil, id, NewCancelled(s.spec.Name, op, err)
	}
	if err := s.write(ctx, tr, frame); err != nil {
		s.forget(id)
		return nil, id, NewTransportLost(s.spec.Name, err).WithOperation(op)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, id, resp.err
		}
		if resp.msg.Error != nil {
			return nil, id, NewRemoteError(s.spec.Name, op, resp.msg.Error)
		}
		return resp.msg.Result, id, nil
	case <-ctx.Done():
		if s.forget(id) {
			s.notifyCancelled(tr, id, ctx.Err())
		}
		return nil, id, NewCancelled(s.spec.Name, op, ctx.Err())
	}
}

// forget removes a pending handle. It reports whether the handle was still
// registered, i.e. nobody else resolved it.
func (s *Session) forget(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *Session) notifyCancelled(tr transport.Transport, id int64, reason error) {
	frame, err := encodeNotification(notificationCancelled, map[string]any{
		"requestId": id,
		"reason":    reason.Error(),
	})
	if err != nil {
		return
	}
	go func() {
		if err := s.write(context.Background(), tr, frame); err != nil {
			s.logger.Debug("cancel notification not delivered", agentlog.RequestIDKey, id, "error", err)
		}
	}()
}

// write sends one frame. Once started, a write belongs to the session rather
// than the caller, so ctx cancellation never interrupts it. A failed write
// ends the transport for every caller.
func (s *Session) write(ctx context.Context, tr transport.Transport, frame []byte) error {
	agentlog.Trace(s.logger, "frame sent", slog.String("frame", string(frame)))
	if err := tr.Send(context.WithoutCancel(ctx), frame); err != nil {
		s.transportEnded(tr, fmt.Errorf("write: %w", err))
		return err
	}
	return nil
}

func (s *Session) readLoop(tr transport.Transport) {
	for frame := range tr.Receive() {
		s.handleFrame(tr, frame)
	}

	cause := io.EOF
	if r, ok := tr.(transport.ErrReporter); ok && r.Err() != nil {
		cause = r.Err()
	}
	s.transportEnded(tr, cause)
}

func (s *Session) handleFrame(tr transport.Transport, frame []byte) {
	agentlog.Trace(s.logger, "frame received", slog.String("frame", string(frame)))

	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.logger.Warn("discarding malformed frame", "error", err)
		return
	}

	switch {
	case msg.isResponse():
		id, ok := msg.numericID()
		if !ok {
			s.logger.Warn("response with unrecognized id", "id", string(msg.ID))
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[id]
		if ok {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("response for unknown or cancelled request", agentlog.RequestIDKey, id)
			return
		}
		ch <- response{msg: &msg}

	case msg.isRequest():
		s.answer(tr, &msg)

	case msg.isNotification():
		s.notification(&msg)

	default:
		s.logger.Warn("discarding frame with no method or id")
	}
}

// answer replies to server-initiated requests. Replies go out on their own
// goroutine so the read loop never blocks on a write.
func (s *Session) answer(tr transport.Transport, msg *message) {
	var (
		reply []byte
		err   error
	)
	if msg.Method == string(mcp.MethodPing) {
		reply, err = encodeResult(msg.ID, struct{}{})
	} else {
		s.logger.Debug("rejecting server request", "method", msg.Method)
		reply, err = encodeError(msg.ID, RPCMethodNotFound, "method not supported by client: "+msg.Method)
	}
	if err != nil {
		return
	}
	go func() {
		if err := s.write(context.Background(), tr, reply); err != nil {
			s.logger.Debug("reply not delivered", "method", msg.Method, "error", err)
		}
	}()
}

func (s *Session) notification(msg *message) {
	switch msg.Method {
	case notificationToolsListChanged:
		s.events.EmitToolsChanged(s.spec.Name)
	case notificationMessage:
		var p struct {
			Level  string          `json:"level"`
			Logger string          `json:"logger"`
			Data   json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		s.logger.Log(context.Background(), agentlog.ParseLevel(p.Level), "server log",
			"logger", p.Logger, "data", string(p.Data))
	default:
		s.logger.Debug("server notification", "method", msg.Method)
	}
}

// transportEnded fails every pending request once the inbound stream ends or
// a write fails.
func (s *Session) transportEnded(tr transport.Transport, cause error) {
	s.mu.Lock()
	if s.tr != tr {
		// Close or a failed handshake already detached this transport.
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[int64]chan response)
	s.tr = nil
	wasReady := s.state == StateReady
	lostErr := NewTransportLost(s.spec.Name, cause)
	if wasReady {
		s.state = StateFailed
		s.lastErr = lostErr
	}
	s.mu.Unlock()

	for id, ch := range pending {
		ch <- response{err: NewTransportLost(s.spec.Name, cause)}
		s.logger.Debug("request failed by transport loss", agentlog.RequestIDKey, id)
	}

	if wasReady {
		s.logger.Warn("transport lost", "error", cause, "pending", len(pending))
		s.events.EmitFailed(s.spec.Name, lostErr)
	}
	_ = tr.Close()
}

// detach drops tr after a failed handshake and fails its pending requests.
func (s *Session) detach(tr transport.Transport) {
	s.mu.Lock()
	if s.tr != tr {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[int64]chan response)
	s.tr = nil
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: NewTransportLost(s.spec.Name, errSessionClosed)}
	}
}

// Close drains pending requests with Cancelled and closes the transport.
// The session returns to Disconnected and may be connected again. A Close
// that finds another in progress waits for it to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return nil
	case StateClosing:
		done := s.closed
		s.mu.Unlock()
		<-done
		return nil
	}
	prev := s.state
	s.state = StateClosing
	done := make(chan struct{})
	s.closed = done
	s.attempt = nil
	tr := s.tr
	s.tr = nil
	pending := s.pending
	s.pending = make(map[int64]chan response)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: NewCancelled(s.spec.Name, "", errSessionClosed)}
	}

	var err error
	if tr != nil {
		err = tr.Close()
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.closed = nil
	s.mu.Unlock()
	close(done)

	s.logger.Debug("session closed", "previous_state", prev.String(), "drained", len(pending))
	s.events.EmitClosed(s.spec.Name)
	if err != nil {
		return fmt.Errorf("close %s: %w", s.spec.Name, err)
	}
	return nil
}

// CallTool invokes tools/call.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	raw, id, err := s.invoke(ctx, string(mcp.MethodToolsCall), name, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	result := &ToolCallResult{
		RequestID: id,
		Server:    s.spec.Name,
		Operation: name,
		Latency:   time.Since(start),
	}
	if err := decodeToolResult(raw, result); err != nil {
		return nil, NewInternal(s.spec.Name, name, err)
	}
	return result, nil
}

// ListTools invokes tools/list, following pagination cursors.
func (s *Session) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var (
		tools  []ToolDefinition
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, _, err := s.invoke(ctx, string(mcp.MethodToolsList), string(mcp.MethodToolsList), params)
		if err != nil {
			return nil, err
		}
		page, next, err := decodeToolsList(raw)
		if err != nil {
			return nil, NewInternal(s.spec.Name, string(mcp.MethodToolsList), err)
		}
		tools = append(tools, page...)
		if next == "" || next == cursor {
			return tools, nil
		}
		cursor = next
	}
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	_, _, err := s.invoke(ctx, string(mcp.MethodPing), string(mcp.MethodPing), nil)
	return err
}
