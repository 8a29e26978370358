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
	"encoding/json"
	"io"

	"github.com/tombee/mcpagent/internal/mcp"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured error with a code, the server it concerns and a
// suggestion.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Server     string `json:"server,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewResponse returns a successful envelope for command.
func NewResponse(command string) JSONResponse {
	return JSONResponse{Version: "1.0", Command: command, Success: true}
}

// EmitJSON writes response as indented JSON
func EmitJSON(w io.Writer, response any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSONError writes a failed envelope carrying errs
func EmitJSONError(w io.Writer, command string, errs ...JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}
	resp := errorResponse{
		JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: false},
		Errors:       errs,
	}
	return EmitJSON(w, resp)
}

// ToJSONError describes err for JSON output.
func ToJSONError(err error) JSONError {
	out := JSONError{Code: string(mcp.CodeInternal), Message: err.Error()}

	if e, ok := mcp.AsMCPError(err); ok {
		out.Code = string(e.Code)
		out.Server = e.Server
		out.Operation = e.Operation
		out.Retryable = e.IsRetryable()
		out.Suggestion = e.Suggestion()
		return out
	}

	errType, retryable := agenterrors.Classify(err)
	switch errType {
	case "config", "not_found", "validation":
		out.Code = string(mcp.CodeConfig)
	}
	out.Retryable = retryable
	out.Suggestion = agenterrors.Suggestion(err)
	return out
}
