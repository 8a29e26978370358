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

package servers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/completion"
	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/mcp"
)

// ToolsResponse is the JSON response for servers tools
type ToolsResponse struct {
	shared.JSONResponse
	Server string               `json:"server"`
	Tools  []mcp.ToolDefinition `json:"tools"`
}

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools <server>",
		Short: "List tools exposed by a server",
		Long: `Start a server, list the tools it exposes, and shut it down.

Use --json to include each tool's input schema.`,
		Example: `  # List tools from the filesystem server
  mcpagent servers tools fs

  # Get tool schemas as JSON
  mcpagent servers tools fs --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteFirstArgServer,
		RunE:              runTools,
	}
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	server := args[0]

	rt, closeRuntime, err := shared.OpenRuntime(cmd)
	if err != nil {
		return err
	}
	defer closeRuntime()

	ctx, cancel := shared.CommandContext(cmd)
	defer cancel()

	tools, err := rt.Orchestrator.ListTools(ctx, server)
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError(cmd.OutOrStdout(), "servers tools", shared.ToJSONError(err))
		}
		return shared.WrapCallError("failed to list tools", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if tools == nil {
			tools = []mcp.ToolDefinition{}
		}
		return shared.EmitJSON(out, ToolsResponse{JSONResponse: shared.NewResponse("servers tools"), Server: server, Tools: tools})
	}

	if len(tools) == 0 {
		fmt.Fprintf(out, "Server %s exposes no tools.\n", server)
		return nil
	}

	fmt.Fprintf(out, "%-30s %s\n", "TOOL", "DESCRIPTION")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, tool := range tools {
		desc, _, _ := strings.Cut(tool.Description, "\n")
		fmt.Fprintf(out, "%-30s %s\n", truncate(tool.Name, 30), truncate(desc, 50))
	}
	return nil
}
