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

package errors

// UserVisibleError is an error the CLI can print as-is, with a hint on how to
// fix it. mcp.MCPError and every type in this package implement it.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether the message is meaningful to an operator.
	// Internal failures return false and are printed without a hint.
	IsUserVisible() bool

	// UserMessage is a one-line description without wrapping context.
	UserMessage() string

	// Suggestion is a next step for the operator, or "".
	Suggestion() string
}

// ErrorClassifier lets callers branch on a failure category without type
// switches. The orchestrator and the JSON error output read IsRetryable.
type ErrorClassifier interface {
	error

	// ErrorType is a stable lowercase category such as "config" or
	// "transport_lost".
	ErrorType() string

	// IsRetryable reports whether the same call may succeed on a fresh
	// connection.
	IsRetryable() bool
}
