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

package call

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/completion"
	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/mcp"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// CallResponse is the JSON response for call
type CallResponse struct {
	shared.JSONResponse
	Result CallResult `json:"result"`
}

// CallResult flattens a tool result for output.
type CallResult struct {
	Server     string            `json:"server"`
	Operation  string            `json:"operation"`
	RequestID  int64             `json:"request_id"`
	LatencyMS  int64             `json:"latency_ms"`
	IsError    bool              `json:"is_error"`
	Content    []mcp.ContentItem `json:"content"`
	Structured any               `json:"structured_content,omitempty"`
}

func newCallResult(r *mcp.ToolCallResult) CallResult {
	return CallResult{
		Server:     r.Server,
		Operation:  r.Operation,
		RequestID:  r.RequestID,
		LatencyMS:  r.Latency.Milliseconds(),
		IsError:    r.IsError,
		Content:    r.Content,
		Structured: r.Structured,
	}
}

// NewCommand creates the call command.
func NewCommand() *cobra.Command {
	var (
		pairs    []string
		argsJSON string
		argsFile string
	)

	cmd := &cobra.Command{
		Use: "call <server> <tool>",
		Annotations: map[string]string{
			"group": "execution",
		},
		Short: "Call a tool on a configured server",
		Long: `Call one tool on a named server and print its result.

The server is started or dialed on demand and shut down when the command
exits. Arguments are given as key=value pairs (values that parse as JSON are
passed as JSON), as a JSON object, or from a JSON file.

Exit codes:
  0  the tool succeeded
  1  the call failed
  2  invalid configuration or unknown server
  3  the tool reported an error in its result
  4  the server could not be reached
  5  the call was cancelled or timed out`,
		Example: `  # Read a file through the filesystem server
  mcpagent call fs read_file --arg path=/etc/hosts

  # Pass structured arguments
  mcpagent call fetch fetch --args '{"url": "https://example.com", "max_length": 500}'

  # Bound the call and get JSON output
  mcpagent call fetch fetch --arg url=https://example.com --timeout 20s --json`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.CompleteFirstArgServer,
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := BuildArguments(pairs, argsJSON, argsFile)
			if err != nil {
				return err
			}
			return runCall(cmd, args[0], args[1], arguments)
		},
	}

	cmd.Flags().StringArrayVarP(&pairs, "arg", "a", nil, "Tool argument as key=value (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&argsFile, "args-file", "", "Read tool arguments from a JSON file")

	return cmd
}

func runCall(cmd *cobra.Command, server, tool string, arguments map[string]any) error {
	rt, closeRuntime, err := shared.OpenRuntime(cmd)
	if err != nil {
		return err
	}
	defer closeRuntime()

	ctx, cancel := shared.CommandContext(cmd)
	defer cancel()

	result, err := rt.Orchestrator.Execute(ctx, server, tool, arguments)
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError(cmd.OutOrStdout(), "call", shared.ToJSONError(err))
		}
		return shared.WrapCallError(fmt.Sprintf("%s/%s failed", server, tool), err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp := CallResponse{JSONResponse: shared.NewResponse("call"), Result: newCallResult(result)}
		resp.Success = !result.IsError
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else {
		printResult(out, result)
	}

	if result.IsError {
		return shared.NewToolError(fmt.Sprintf("%s/%s reported an error", server, tool))
	}
	return nil
}

func printResult(w io.Writer, r *mcp.ToolCallResult) {
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			fmt.Fprintln(w, c.Text)
		case "resource", "resource_link":
			fmt.Fprintf(w, "[%s %s]\n", c.Type, c.URI)
		default:
			fmt.Fprintf(w, "[%s %s, %d bytes base64]\n", c.Type, c.MimeType, len(c.Data))
		}
	}
	if r.Structured != nil && len(r.Content) == 0 {
		data, err := json.MarshalIndent(r.Structured, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(data))
		}
	}
	if shared.GetVerbose() {
		fmt.Fprintf(w, "(request %d, %s)\n", r.RequestID, r.Latency.Round(time.Millisecond))
	}
}

// BuildArguments merges the argument sources. The file is applied first,
// then the JSON object, then individual pairs.
func BuildArguments(pairs []string, argsJSON, argsFile string) (map[string]any, error) {
	args := map[string]any{}

	if argsFile != "" {
		data, err := os.ReadFile(argsFile)
		if err != nil {
			return nil, agenterrors.Wrap(err, "read arguments file")
		}
		if err := mergeObject(args, data); err != nil {
			return nil, agenterrors.Wrapf(err, "arguments file %s", argsFile)
		}
	}
	if argsJSON != "" {
		if err := mergeObject(args, []byte(argsJSON)); err != nil {
			return nil, agenterrors.Wrap(err, "--args")
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, &agenterrors.ValidationError{
				Field:   "--arg",
				Message: fmt.Sprintf("%q is not key=value", pair),
				Hint:    "Use --arg path=/tmp/x or pass an object with --args",
			}
		}
		args[key] = parseValue(value)
	}
	return args, nil
}

func mergeObject(dst map[string]any, data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return &agenterrors.ValidationError{Message: "expected a JSON object: " + err.Error()}
	}
	for k, v := range obj {
		dst[k] = v
	}
	return nil
}

// parseValue keeps JSON scalars, arrays and objects typed; anything else is
// a string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
