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
	"github.com/spf13/cobra"
)

// NewCommand creates the servers command for inspecting configured tool servers.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "servers",
		Annotations: map[string]string{
			"group": "servers",
		},
		Short: "Inspect configured tool servers",
		Long: `Inspect the tool servers named under mcp.servers in the config file.

Commands:
  list   List configured servers without starting them
  tools  Start a server and list the tools it exposes
  ping   Start servers and check that they respond`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newPingCommand())

	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
