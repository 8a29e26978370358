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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/mcp"
	"github.com/tombee/mcpagent/internal/orchestrator"
)

// BatchFile is the document read by the batch command.
type BatchFile struct {
	Calls []BatchCall `yaml:"calls"`
}

// BatchCall is one entry of a batch file.
type BatchCall struct {
	Server string         `yaml:"server"`
	Tool   string         `yaml:"tool"`
	Args   map[string]any `yaml:"args"`
}

// BatchResponse is the JSON response for batch
type BatchResponse struct {
	shared.JSONResponse
	Results []BatchEntry `json:"results"`
}

// BatchEntry is one call's outcome; exactly one of Result and Error is set.
type BatchEntry struct {
	Server    string            `json:"server"`
	Operation string            `json:"operation"`
	Result    *CallResult       `json:"result,omitempty"`
	Error     *shared.JSONError `json:"error,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "batch <file>",
		Annotations: map[string]string{
			"group": "execution",
		},
		Short: "Run many tool calls concurrently",
		Long: `Run every call listed in a YAML or JSON file.

Calls run concurrently, bounded by the execution engine: "concurrent" fans out,
"inline" runs one call at a time. Results are printed in file order. A failing
call does not stop the others; the command fails if any call failed.

File format:
  calls:
    - server: fs
      tool: read_file
      args: {path: /etc/hosts}
    - server: fetch
      tool: fetch
      args: {url: https://example.com}`,
		Example: `  mcpagent batch calls.yaml
  mcpagent batch calls.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calls, err := ReadBatchFile(args[0])
			if err != nil {
				return shared.NewConfigError("invalid batch file", err)
			}
			return runBatch(cmd, calls)
		},
	}
	return cmd
}

// ReadBatchFile parses a batch file into requests.
func ReadBatchFile(path string) ([]mcp.ToolCallRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBatch(data)
}

// ParseBatch parses a batch document. Unknown fields are rejected.
func ParseBatch(data []byte) ([]mcp.ToolCallRequest, error) {
	var doc BatchFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(doc.Calls) == 0 {
		return nil, errors.New("no calls listed")
	}

	calls := make([]mcp.ToolCallRequest, len(doc.Calls))
	for i, c := range doc.Calls {
		if c.Server == "" || c.Tool == "" {
			return nil, fmt.Errorf("calls[%d]: server and tool are required", i)
		}
		calls[i] = mcp.ToolCallRequest{Server: c.Server, Operation: c.Tool, Arguments: c.Args}
	}
	return calls, nil
}

func runBatch(cmd *cobra.Command, calls []mcp.ToolCallRequest) error {
	rt, closeRuntime, err := shared.OpenRuntime(cmd)
	if err != nil {
		return err
	}
	defer closeRuntime()

	ctx, cancel := shared.CommandContext(cmd)
	defer cancel()

	results := rt.Orchestrator.ExecuteBatch(ctx, calls)
	failed := 0
	for _, r := range results {
		if r.Err != nil || r.Result.IsError {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp := BatchResponse{JSONResponse: shared.NewResponse("batch"), Results: batchEntries(results)}
		resp.Success = failed == 0
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else {
		printBatch(out, results)
	}

	if failed > 0 {
		return shared.NewExecutionError(fmt.Sprintf("%d of %d calls failed", failed, len(results)), nil)
	}
	return nil
}

func batchEntries(results []orchestrator.BatchResult) []BatchEntry {
	entries := make([]BatchEntry, len(results))
	for i, r := range results {
		entries[i] = BatchEntry{Server: r.Request.Server, Operation: r.Request.Operation}
		if r.Err != nil {
			jerr := shared.ToJSONError(r.Err)
			entries[i].Error = &jerr
			continue
		}
		res := newCallResult(r.Result)
		entries[i].Result = &res
	}
	return entries
}

func printBatch(w io.Writer, results []orchestrator.BatchResult) {
	fmt.Fprintf(w, "%-4s %-30s %-12s %s\n", "#", "CALL", "STATUS", "DETAIL")
	for i, r := range results {
		name := r.Request.Server + "/" + r.Request.Operation
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "%-4d %-30s %-12s %v\n", i, name, "failed", r.Err)
		case r.Result.IsError:
			fmt.Fprintf(w, "%-4d %-30s %-12s %s\n", i, name, "tool error", firstLine(r.Result.Text()))
		default:
			fmt.Fprintf(w, "%-4d %-30s %-12s %s\n", i, name, "ok", firstLine(r.Result.Text()))
		}
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
