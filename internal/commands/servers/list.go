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

	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/mcp"
	"github.com/tombee/mcpagent/internal/mcp/transport"
)

// ServerEntry describes one configured server.
type ServerEntry struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Target    string   `json:"target"`
	Watch     []string `json:"watch,omitempty"`
}

// ListResponse is the JSON response for servers list
type ListResponse struct {
	shared.JSONResponse
	Servers []ServerEntry `json:"servers"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Long: `List the servers named in the config file. Nothing is started.

See also: mcpagent servers ping, mcpagent servers tools`,
		Example: `  # List configured servers
  mcpagent servers list

  # Extract server names for scripting
  mcpagent servers list --json | jq -r '.servers[].name'`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	settings, _, _, err := shared.LoadSettings()
	if err != nil {
		return err
	}
	specs, err := settings.ServerSpecs()
	if err != nil {
		return shared.NewConfigError("invalid server", err)
	}

	entries := make([]ServerEntry, len(specs))
	for i, spec := range specs {
		entries[i] = entryFor(spec)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, ListResponse{JSONResponse: shared.NewResponse("servers list"), Servers: entries})
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		fmt.Fprintln(out, "\nTo add a server, add an entry under mcp.servers in the config file.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-10s %s\n", "NAME", "TRANSPORT", "TARGET")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, e := range entries {
		fmt.Fprintf(out, "%-20s %-10s %s\n", truncate(e.Name, 20), e.Transport, truncate(e.Target, 50))
	}
	return nil
}

// entryFor shows the command line for stdio servers and the URL otherwise.
// Header values are never printed.
func entryFor(spec mcp.ServerSpec) ServerEntry {
	e := ServerEntry{Name: spec.Name, Transport: string(spec.Transport), Watch: spec.Watch}
	if spec.Transport == "" || spec.Transport == transport.KindStdio {
		e.Target = strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
	} else {
		e.Target = spec.URL
	}
	return e
}
