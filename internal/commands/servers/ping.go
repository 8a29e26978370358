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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/mcpagent/internal/commands/completion"
	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/mcp"
)

// PingEntry is one server's health check.
type PingEntry struct {
	Name      string            `json:"name"`
	OK        bool              `json:"ok"`
	LatencyMS int64             `json:"latency_ms,omitempty"`
	Server    string            `json:"server_name,omitempty"`
	Version   string            `json:"server_version,omitempty"`
	Error     *shared.JSONError `json:"error,omitempty"`
}

// PingResponse is the JSON response for servers ping
type PingResponse struct {
	shared.JSONResponse
	Servers []PingEntry `json:"servers"`
}

func newPingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping [server...]",
		Short: "Check that servers start and respond",
		Long: `Connect to each named server (all configured servers by default),
send a ping, and report round-trip latency. Servers are checked
concurrently. The command fails if any server does not respond.`,
		Example: `  # Check every configured server
  mcpagent servers ping

  # Check two servers with a deadline
  mcpagent servers ping fs fetch --timeout 15s`,
		ValidArgsFunction: completion.CompleteServerNames,
		RunE:              runPing,
	}
	return cmd
}

func runPing(cmd *cobra.Command, args []string) error {
	rt, closeRuntime, err := shared.OpenRuntime(cmd)
	if err != nil {
		return err
	}
	defer closeRuntime()

	ctx, cancel := shared.CommandContext(cmd)
	defer cancel()

	names := args
	if len(names) == 0 {
		names = rt.Orchestrator.Servers()
	}

	entries := make([]PingEntry, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			entries[i] = pingOne(ctx, rt.Orchestrator.Ping, name)
			return nil
		})
	}
	_ = g.Wait()

	infos := make(map[string]*mcp.ServerInfo)
	for _, st := range rt.Registry.Status() {
		infos[st.Name] = st.Info
	}
	for i := range entries {
		if info := infos[entries[i].Name]; info != nil {
			entries[i].Server = info.Name
			entries[i].Version = info.Version
		}
	}

	failed := 0
	for _, e := range entries {
		if !e.OK {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp := PingResponse{JSONResponse: shared.NewResponse("servers ping"), Servers: entries}
		resp.Success = failed == 0
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else {
		printPing(cmd, entries)
	}

	if failed > 0 {
		return &shared.ExitError{
			Code:    shared.ExitServerUnavailable,
			Message: fmt.Sprintf("%d of %d servers did not respond", failed, len(entries)),
		}
	}
	return nil
}

func pingOne(ctx context.Context, ping func(context.Context, string) (time.Duration, error), name string) PingEntry {
	d, err := ping(ctx, name)
	if err != nil {
		jerr := shared.ToJSONError(err)
		return PingEntry{Name: name, Error: &jerr}
	}
	return PingEntry{Name: name, OK: true, LatencyMS: d.Milliseconds()}
}

func printPing(cmd *cobra.Command, entries []PingEntry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-20s %-8s %-10s %s\n", "NAME", "STATUS", "LATENCY", "DETAIL")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, e := range entries {
		if e.OK {
			detail := strings.TrimSpace(e.Server + " " + e.Version)
			fmt.Fprintf(out, "%-20s %-8s %-10s %s\n", truncate(e.Name, 20), "ok", fmt.Sprintf("%dms", e.LatencyMS), detail)
			continue
		}
		fmt.Fprintf(out, "%-20s %-8s %-10s %s\n", truncate(e.Name, 20), "failed", "-", truncate(e.Error.Message, 60))
	}
}
