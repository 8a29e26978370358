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

import (
	"fmt"
	"time"
)

// ValidationError is a rejected input value: a tool argument payload that
// cannot be encoded, or a malformed field of a server entry.
type ValidationError struct {
	Field   string
	Message string

	// Hint overrides the default suggestion.
	Hint string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) ErrorType() string   { return "validation" }
func (e *ValidationError) IsRetryable() bool   { return false }
func (e *ValidationError) IsUserVisible() bool { return true }
func (e *ValidationError) UserMessage() string { return e.Error() }

func (e *ValidationError) Suggestion() string {
	if e.Hint != "" {
		return e.Hint
	}
	if e.Field != "" {
		return fmt.Sprintf("Correct the value of %s and retry", e.Field)
	}
	return ""
}

// NotFoundError is a lookup miss for a named resource.
type NotFoundError struct {
	// Resource is a noun such as "settings file" or "tool".
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) ErrorType() string   { return "not_found" }
func (e *NotFoundError) IsRetryable() bool   { return false }
func (e *NotFoundError) IsUserVisible() bool { return true }
func (e *NotFoundError) UserMessage() string { return e.Error() }

func (e *NotFoundError) Suggestion() string {
	switch e.Resource {
	case "settings file":
		return fmt.Sprintf("Create %s in the working directory or pass --config", e.ID)
	case "tool":
		return "Run 'mcpagent servers tools <server>' to list available tools"
	}
	return ""
}

// ConfigError is a settings document that could not be read, parsed or
// validated. Key is the dotted path of the offending entry, if known.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error       { return e.Cause }
func (e *ConfigError) ErrorType() string   { return "config" }
func (e *ConfigError) IsRetryable() bool   { return false }
func (e *ConfigError) IsUserVisible() bool { return true }
func (e *ConfigError) UserMessage() string { return e.Error() }

func (e *ConfigError) Suggestion() string {
	return "Run 'mcpagent config validate' for details"
}

// TimeoutError is a bounded phase that ran out of time, such as the
// capability handshake.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error       { return e.Cause }
func (e *TimeoutError) ErrorType() string   { return "timeout" }
func (e *TimeoutError) IsRetryable() bool   { return true }
func (e *TimeoutError) IsUserVisible() bool { return true }
func (e *TimeoutError) UserMessage() string { return e.Error() }

func (e *TimeoutError) Suggestion() string {
	if e.Operation == "handshake" {
		return "Raise handshake_timeout_seconds for slow-starting servers"
	}
	return ""
}
