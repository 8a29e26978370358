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
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of tool-server error.
type ErrorCode string

const (
	// CodeUnknownServer means no spec exists for the requested name.
	CodeUnknownServer ErrorCode = "UNKNOWN_SERVER"
	// CodeTransportUnavailable means the process could not be spawned or the
	// remote endpoint could not be dialed.
	CodeTransportUnavailable ErrorCode = "TRANSPORT_UNAVAILABLE"
	// CodeHandshakeFailed means initialize failed or timed out.
	CodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	// CodeTransportLost means the channel closed while requests were pending.
	CodeTransportLost ErrorCode = "TRANSPORT_LOST"
	// CodeCancelled means the caller cancelled or the session was closed.
	CodeCancelled ErrorCode = "CANCELLED"
	// CodeRemoteError means the server answered with a JSON-RPC error.
	CodeRemoteError ErrorCode = "REMOTE_ERROR"
	// CodeNotReady means a request was issued on a session that is not Ready.
	CodeNotReady ErrorCode = "NOT_READY"
	// CodeConfig indicates an invalid server spec.
	CodeConfig ErrorCode = "CONFIG"
	// CodeInternal wraps anything unexpected.
	CodeInternal ErrorCode = "INTERNAL"
)

// Sentinels for errors.Is. They match any MCPError with the same code.
var (
	ErrUnknownServer        = &MCPError{Code: CodeUnknownServer, Message: "unknown server"}
	ErrTransportUnavailable = &MCPError{Code: CodeTransportUnavailable, Message: "transport unavailable"}
	ErrHandshakeFailed      = &MCPError{Code: CodeHandshakeFailed, Message: "handshake failed"}
	ErrTransportLost        = &MCPError{Code: CodeTransportLost, Message: "transport lost"}
	ErrCancelled            = &MCPError{Code: CodeCancelled, Message: "cancelled"}
	ErrRemote               = &MCPError{Code: CodeRemoteError, Message: "remote error"}
	ErrNotReady             = &MCPError{Code: CodeNotReady, Message: "session not ready"}
	ErrConfig               = &MCPError{Code: CodeConfig, Message: "invalid server configuration"}
	ErrInternal             = &MCPError{Code: CodeInternal, Message: "internal error"}
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code ErrorCode
	// Server is the tool server the error concerns, if any.
	Server string
	// Operation is the tool or method name, if any.
	Operation string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// RPC is the peer's JSON-RPC error for CodeRemoteError.
	RPC *RPCError
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	if e.Server != "" {
		sb.WriteString(e.Server)
		if e.Operation != "" {
			sb.WriteString("/")
			sb.WriteString(e.Operation)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Is matches another MCPError by code.
func (e *MCPError) Is(target error) bool {
	t, ok := target.(*MCPError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool {
	return e.Code != CodeInternal
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *MCPError) ErrorType() string {
	return strings.ToLower(string(e.Code))
}

// IsRetryable implements pkg/errors.ErrorClassifier. Connection-level
// failures may succeed on a fresh session.
func (e *MCPError) IsRetryable() bool {
	switch e.Code {
	case CodeTransportUnavailable, CodeHandshakeFailed, CodeTransportLost:
		return true
	default:
		return false
	}
}

// NewMCPError creates a new MCPError.
func NewMCPError(code ErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithServer sets the server name.
func (e *MCPError) WithServer(name string) *MCPError {
	e.Server = name
	return e
}

// WithOperation sets the operation name.
func (e *MCPError) WithOperation(op string) *MCPError {
	e.Operation = op
	return e
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	if cause != nil && e.Detail == "" {
		e.Detail = cause.Error()
	}
	return e
}

// NewUnknownServer reports a name with no spec.
func NewUnknownServer(name string) *MCPError {
	return NewMCPError(CodeUnknownServer, "unknown server").
		WithServer(name).
		WithSuggestions(
			"Check the server name: mcpagent servers list",
			fmt.Sprintf("Add an entry under mcp.servers.%s in the config file", name),
		)
}

// NewTransportUnavailable reports a spawn or dial failure.
func NewTransportUnavailable(name string, cause error) *MCPError {
	return NewMCPError(CodeTransportUnavailable, "transport unavailable").
		WithServer(name).
		WithCause(cause).
		WithSuggestions(
			"Verify the command is installed and in your PATH, or that the URL is reachable",
			"Check server stderr with --verbose",
		)
}

// NewHandshakeFailed reports an initialize error or timeout.
func NewHandshakeFailed(name string, cause error) *MCPError {
	return NewMCPError(CodeHandshakeFailed, "handshake failed").
		WithServer(name).
		WithCause(cause).
		WithSuggestions(
			"Verify the server implements the MCP initialize handshake",
			"Try increasing handshake_timeout_seconds",
		)
}

// NewTransportLost reports a channel that closed under pending requests.
func NewTransportLost(name string, cause error) *MCPError {
	return NewMCPError(CodeTransportLost, "transport lost").
		WithServer(name).
		WithCause(cause).
		WithSuggestions("Check server stderr for crash details")
}

// NewCancelled reports a request abandoned by the caller or by Close.
func NewCancelled(name, op string, cause error) *MCPError {
	return NewMCPError(CodeCancelled, "cancelled").
		WithServer(name).
		WithOperation(op).
		WithCause(cause)
}

// NewRemoteError wraps a JSON-RPC error returned by the server.
func NewRemoteError(name, op string, rpcErr *RPCError) *MCPError {
	e := NewMCPError(CodeRemoteError, "remote error").
		WithServer(name).
		WithOperation(op)
	e.RPC = rpcErr
	if rpcErr != nil {
		e.Detail = rpcErr.Error()
	}
	return e
}

// NewNotReady reports a request on a session outside Ready.
func NewNotReady(name string, state State) *MCPError {
	return NewMCPError(CodeNotReady, "session not ready").
		WithServer(name).
		WithDetail(fmt.Sprintf("state is %s", state))
}

// NewInternal wraps an unexpected error.
func NewInternal(name, op string, cause error) *MCPError {
	return NewMCPError(CodeInternal, "internal error").
		WithServer(name).
		WithOperation(op).
		WithCause(cause)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *MCPError {
	return NewMCPError(CodeConfig, fmt.Sprintf("invalid server name %q", name)).
		WithDetail("names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions("Example valid names: fs, fetch, my-server, server_1")
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(name, detail string) *MCPError {
	return NewMCPError(CodeConfig, "invalid server configuration").
		WithServer(name).
		WithDetail(detail).
		WithSuggestions("Check the mcp.servers section of the config file")
}

// CodeOf returns the code of the first MCPError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr.Code
	}
	return ""
}

// AsMCPError extracts an MCPError from an error chain.
func AsMCPError(err error) (*MCPError, bool) {
	var mcpErr *MCPError
	ok := errors.As(err, &mcpErr)
	return mcpErr, ok
}
