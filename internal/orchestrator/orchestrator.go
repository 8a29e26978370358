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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	agentlog "github.com/tombee/mcpagent/internal/log"
	"github.com/tombee/mcpagent/internal/mcp"
	"github.com/tombee/mcpagent/internal/tracing"
)

// DefaultReconnectInterval is the minimum gap between lazy reconnects to one
// server.
const DefaultReconnectInterval = time.Second

const tracerName = "github.com/tombee/mcpagent/internal/orchestrator"

// Outcomes recorded on spans, metrics and finish events.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
)

// Config configures an Orchestrator.
type Config struct {
	// Provider resolves server names to sessions. Required.
	Provider mcp.SessionProvider

	// Logger for call events. Default: slog.Default()
	Logger *slog.Logger

	// Events receives reconnecting events. Optional.
	Events *mcp.EventEmitter

	// TracerProvider for call spans. Default: otel.GetTracerProvider()
	TracerProvider trace.TracerProvider

	// Metrics records call counts and latency. Optional.
	Metrics *tracing.Metrics

	// ReconnectInterval limits lazy reconnects per server.
	// Default: DefaultReconnectInterval
	ReconnectInterval time.Duration

	// MaxConcurrency bounds ExecuteBatch. Default: 8
	MaxConcurrency int
}

// Orchestrator executes tool calls against named servers. It is safe for
// concurrent use.
type Orchestrator struct {
	provider  mcp.SessionProvider
	logger    *slog.Logger
	events    *mcp.EventEmitter
	tracer    trace.Tracer
	metrics   *tracing.Metrics
	interval  time.Duration
	batchSize int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	batch := cfg.MaxConcurrency
	if batch <= 0 {
		batch = 8
	}

	return &Orchestrator{
		provider:  cfg.Provider,
		logger:    agentlog.WithComponent(logger, "orchestrator"),
		events:    cfg.Events,
		tracer:    tp.Tracer(tracerName),
		metrics:   cfg.Metrics,
		interval:  interval,
		batchSize: batch,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// Execute invokes operation on server with args.
//
// UnknownServer, TransportUnavailable, HandshakeFailed, Cancelled and
// TransportLost are returned as produced by the session layer. A JSON-RPC
// error from the server is a RemoteError. Anything else, including a panic,
// becomes an Internal error.
func (o *Orchestrator) Execute(ctx context.Context, server, operation string, args map[string]any) (result *mcp.ToolCallResult, err error) {
	callID := uuid.NewString()
	logger := o.logger.With(
		agentlog.ServerKey, server,
		agentlog.OperationKey, operation,
		"call_id", callID,
	)

	ctx, span := o.tracer.Start(ctx, "mcp.tool_call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.server", server),
			attribute.String("mcp.operation", operation),
			attribute.String("mcp.call_id", callID),
		),
	)
	start := time.Now()
	o.metrics.CallStarted(ctx, server)
	logger.Info("tool call started")

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = mcp.NewInternal(server, operation, fmt.Errorf("panic: %v", r))
		}
		o.finish(ctx, span, logger, server, start, result, err)
	}()

	caller, err := o.resolve(ctx, logger, server)
	if err != nil {
		return nil, err
	}

	result, err = caller.CallTool(ctx, operation, args)
	if err != nil {
		return nil, normalize(ctx, server, operation, err)
	}
	return result, nil
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, logger *slog.Logger, server string, start time.Time, result *mcp.ToolCallResult, err error) {
	elapsed := time.Since(start)
	outcome := outcomeOf(result, err)

	span.SetAttributes(attribute.String("mcp.outcome", outcome))
	if result != nil {
		span.SetAttributes(attribute.Int64("mcp.request_id", result.RequestID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	o.metrics.CallFinished(context.WithoutCancel(ctx), server, outcome, elapsed)

	attrs := []any{"outcome", outcome, agentlog.DurationKey, elapsed.Milliseconds()}
	switch {
	case err != nil:
		logger.Warn("tool call failed", append(attrs, "error", err)...)
	case result.IsError:
		logger.Info("tool call finished", append(attrs, "tool_error", result.Text())...)
	default:
		logger.Info("tool call finished", attrs...)
	}
}

func outcomeOf(result *mcp.ToolCallResult, err error) string {
	if err != nil {
		if code := mcp.CodeOf(err); code != "" {
			return string(code)
		}
		return string(mcp.CodeInternal)
	}
	if result != nil && result.IsError {
		return OutcomeToolError
	}
	return OutcomeOK
}

// resolve gets a session, reconnecting once if the first attempt found the
// server down.
func (o *Orchestrator) resolve(ctx context.Context, logger *slog.Logger, server string) (mcp.ToolCaller, error) {
	caller, err := o.provider.Get(ctx, server)
	if !needsReconnect(caller, err) {
		if err != nil {
			return nil, normalize(ctx, server, "", err)
		}
		return caller, nil
	}
	if err == nil {
		err = mcp.NewNotReady(server, caller.State())
	}

	if !o.limiter(server).Allow() {
		logger.Debug("reconnect throttled", "error", err)
		o.metrics.Reconnect(ctx, server, "throttled")
		return nil, normalize(ctx, server, "", err)
	}

	logger.Info("reconnecting", "cause", err)
	o.events.EmitReconnecting(server, err)

	caller, err = o.provider.Get(ctx, server)
	if err == nil && caller.State() == mcp.StateFailed {
		err = mcp.NewNotReady(server, caller.State())
	}
	if err != nil {
		o.metrics.Reconnect(ctx, server, outcomeOf(nil, err))
		return nil, normalize(ctx, server, "", err)
	}
	o.metrics.Reconnect(ctx, server, OutcomeOK)
	return caller, nil
}

func needsReconnect(caller mcp.ToolCaller, err error) bool {
	if err != nil {
		switch mcp.CodeOf(err) {
		case mcp.CodeTransportUnavailable, mcp.CodeHandshakeFailed:
			return true
		}
		return false
	}
	return caller.State() == mcp.StateFailed
}

func (o *Orchestrator) limiter(server string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[server]
	if !ok {
		l = rate.NewLimiter(rate.Every(o.interval), 1)
		o.limiters[server] = l
	}
	return l
}

// normalize maps any error to an *mcp.MCPError.
func normalize(ctx context.Context, server, operation string, err error) error {
	if _, ok := mcp.AsMCPError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return mcp.NewCancelled(server, operation, err)
	}
	if ctx.Err() != nil {
		return mcp.NewCancelled(server, operation, errors.Join(ctx.Err(), err))
	}
	return mcp.NewInternal(server, operation, err)
}

// ListTools returns the tools of server, connecting if needed.
func (o *Orchestrator) ListTools(ctx context.Context, server string) ([]mcp.ToolDefinition, error) {
	caller, err := o.resolve(ctx, o.logger.With(agentlog.ServerKey, server), server)
	if err != nil {
		return nil, err
	}
	tools, err := caller.ListTools(ctx)
	if err != nil {
		return nil, normalize(ctx, server, "tools/list", err)
	}
	return tools, nil
}

// Ping checks that server responds, connecting if needed.
func (o *Orchestrator) Ping(ctx context.Context, server string) (time.Duration, error) {
	caller, err := o.resolve(ctx, o.logger.With(agentlog.ServerKey, server), server)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if err := caller.Ping(ctx); err != nil {
		return 0, normalize(ctx, server, "ping", err)
	}
	return time.Since(start), nil
}

// Servers returns the configured server names.
func (o *Orchestrator) Servers() []string {
	return o.provider.Names()
}
