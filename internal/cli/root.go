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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for mcpagent
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcpagent",
		Short: "mcpagent - run tools on MCP servers",
		Long: `mcpagent connects to the tool servers named in its config file, over a
local subprocess, Server-Sent Events or a WebSocket, and calls their tools.

Servers start on first use and are shut down when the command exits.
Every run writes structured events tagged with a run id.

Run 'mcpagent servers list' to see configured servers.
Run 'mcpagent call <server> <tool>' to call a tool.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}
	// main adds commands/completion, which completes configured server names
	cmd.CompletionOptions.DisableDefaultCmd = true

	shared.RegisterFlags(cmd)
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
