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

package errors_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := agenterrors.Wrap(original, "additional context")
		require.Error(t, wrapped)
		assert.Equal(t, "additional context: original error", wrapped.Error())
		assert.ErrorIs(t, wrapped, original)
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		assert.NoError(t, agenterrors.Wrap(nil, "context"))
	})
}

func TestWrapf(t *testing.T) {
	original := errors.New("no such file")
	wrapped := agenterrors.Wrapf(original, "arguments file %s", "args.json")
	assert.Equal(t, "arguments file args.json: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, original)
	assert.NoError(t, agenterrors.Wrapf(nil, "arguments file %s", "x"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      string
		wantRetryable bool
	}{
		{name: "nil", err: nil, wantType: "", wantRetryable: false},
		{name: "plain error", err: errors.New("boom"), wantType: "unknown", wantRetryable: false},
		{name: "validation", err: &agenterrors.ValidationError{Message: "bad"}, wantType: "validation"},
		{name: "not found", err: &agenterrors.NotFoundError{Resource: "tool", ID: "x"}, wantType: "not_found"},
		{name: "config", err: &agenterrors.ConfigError{Reason: "bad"}, wantType: "config"},
		{
			name:          "wrapped timeout",
			err:           agenterrors.Wrap(&agenterrors.TimeoutError{Operation: "handshake", Duration: time.Second}, "connect"),
			wantType:      "timeout",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotRetryable := agenterrors.Classify(tt.err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantRetryable, gotRetryable)
		})
	}
}

type hiddenErr struct{ cause error }

func (e hiddenErr) Error() string       { return "internal" }
func (e hiddenErr) Unwrap() error       { return e.cause }
func (e hiddenErr) IsUserVisible() bool { return false }
func (e hiddenErr) UserMessage() string { return "" }
func (e hiddenErr) Suggestion() string  { return "should not appear" }

func TestSuggestion(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("boom"), want: ""},
		{
			name: "wrapped config error",
			err:  agenterrors.Wrap(&agenterrors.ConfigError{Reason: "bad"}, "load"),
			want: "Run 'mcpagent config validate' for details",
		},
		{
			name: "settings file missing",
			err:  &agenterrors.NotFoundError{Resource: "settings file", ID: "mcpagent.yaml"},
			want: "Create mcpagent.yaml in the working directory or pass --config",
		},
		{
			name: "hidden error masks inner hint",
			err:  hiddenErr{cause: &agenterrors.ConfigError{Reason: "bad"}},
			want: "",
		},
		{
			name: "validation hint override",
			err:  &agenterrors.ValidationError{Field: "args", Message: "not an object", Hint: "Pass a JSON object"},
			want: "Pass a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agenterrors.Suggestion(tt.err))
		})
	}
}
