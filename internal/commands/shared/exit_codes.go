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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/mcpagent/internal/mcp"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// Exit codes for mcpagent commands
const (
	ExitSuccess           = 0
	ExitExecutionFailed   = 1
	ExitInvalidConfig     = 2
	ExitToolError         = 3
	ExitServerUnavailable = 4
	ExitCancelled         = 5
)

// ExitCodeInfo documents one exit code.
type ExitCodeInfo struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

// ExitCodes lists every exit code a command can return.
func ExitCodes() []ExitCodeInfo {
	return []ExitCodeInfo{
		{ExitSuccess, "success"},
		{ExitExecutionFailed, "execution failed"},
		{ExitInvalidConfig, "invalid configuration or unknown server"},
		{ExitToolError, "tool returned an error result"},
		{ExitServerUnavailable, "tool server could not be started or was lost"},
		{ExitCancelled, "cancelled by signal or --timeout"},
	}
}

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for failed tool calls
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for missing or invalid configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewToolError creates an error for a tool that reported failure in its result
func NewToolError(msg string) *ExitError {
	return &ExitError{Code: ExitToolError, Message: msg}
}

// WrapCallError wraps a runtime error with the exit code for its category.
func WrapCallError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitCodeFor(err), Message: msg, Cause: err}
}

// ExitCodeFor maps an error to an exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch mcp.CodeOf(err) {
	case mcp.CodeUnknownServer, mcp.CodeConfig:
		return ExitInvalidConfig
	case mcp.CodeTransportUnavailable, mcp.CodeHandshakeFailed, mcp.CodeTransportLost:
		return ExitServerUnavailable
	case mcp.CodeCancelled:
		return ExitCancelled
	}
	if errType, _ := agenterrors.Classify(err); errType == "config" || errType == "not_found" {
		return ExitInvalidConfig
	}
	return ExitExecutionFailed
}

// HandleExitError prints err and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCodeFor(err))
}

// PrintError writes err and any suggestion it carries.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	if s := agenterrors.Suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}
