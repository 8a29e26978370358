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

package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tombee/mcpagent/internal/mcp"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "exit error", err: NewToolError("tool failed"), want: ExitToolError},
		{name: "wrapped exit error", err: fmt.Errorf("run: %w", NewConfigError("bad", nil)), want: ExitInvalidConfig},
		{name: "config error", err: &agenterrors.ConfigError{Key: "logger.level", Reason: "bad"}, want: ExitInvalidConfig},
		{name: "config not found", err: &agenterrors.NotFoundError{Resource: "settings file", ID: "x"}, want: ExitInvalidConfig},
		{name: "unknown server", err: mcp.NewUnknownServer("fs"), want: ExitInvalidConfig},
		{name: "transport unavailable", err: mcp.NewTransportUnavailable("fs", errors.New("exec")), want: ExitServerUnavailable},
		{name: "handshake failed", err: mcp.NewHandshakeFailed("fs", errors.New("timeout")), want: ExitServerUnavailable},
		{name: "transport lost", err: mcp.NewTransportLost("fs", errors.New("eof")), want: ExitServerUnavailable},
		{name: "cancelled", err: mcp.NewCancelled("fs", "read", context.Canceled), want: ExitCancelled},
		{name: "internal", err: mcp.NewInternal("fs", "read", errors.New("boom")), want: ExitExecutionFailed},
		{name: "plain", err: errors.New("boom"), want: ExitExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapCallError(t *testing.T) {
	cause := mcp.NewTransportUnavailable("fetch", errors.New("exec: not found"))
	err := WrapCallError("call failed", cause)

	if err.Code != ExitServerUnavailable {
		t.Errorf("expected code %d, got %d", ExitServerUnavailable, err.Code)
	}
	if !errors.Is(err, mcp.ErrTransportUnavailable) {
		t.Error("expected wrapped error to match ErrTransportUnavailable")
	}
	if !strings.HasPrefix(err.Error(), "call failed: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantSuggestion bool
	}{
		{
			name:           "mcp error with suggestion",
			err:            mcp.NewUnknownServer("nope"),
			wantSuggestion: true,
		},
		{
			name:           "wrapped mcp error",
			err:            NewExecutionError("call failed", mcp.NewUnknownServer("nope")),
			wantSuggestion: true,
		},
		{
			name:           "internal errors are not user visible",
			err:            mcp.NewInternal("fs", "read", errors.New("boom")),
			wantSuggestion: false,
		},
		{
			name:           "plain error",
			err:            errors.New("boom"),
			wantSuggestion: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintError(&buf, tt.err)
			out := buf.String()

			if !strings.HasPrefix(out, "Error: ") {
				t.Errorf("expected Error prefix, got %q", out)
			}
			if got := strings.Contains(out, "Suggestion:"); got != tt.wantSuggestion {
				t.Errorf("suggestion printed = %v, want %v\n%s", got, tt.wantSuggestion, out)
			}
		})
	}
}
