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

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcpagent/internal/config"
	agentlog "github.com/tombee/mcpagent/internal/log"
	"github.com/tombee/mcpagent/internal/mcp"
	mcptest "github.com/tombee/mcpagent/internal/mcp/testing"
)

const twoServers = `
execution_engine: concurrent
logger:
  transports: [none]
  level: debug
  path_settings:
    unique_id: session_id
mcp:
  servers:
    fs:
      command: fake-fs
    fetch:
      command: fake-fetch
`

func openTest(t *testing.T, doc string, fleet *mcptest.Fleet) (*Runtime, *agentlog.MemorySink) {
	t.Helper()
	settings, err := config.Parse([]byte(doc), nil)
	require.NoError(t, err)

	sink := agentlog.NewMemorySink()
	rt, err := Open(Options{
		Settings:     settings,
		SessionID:    "run-1",
		Sinks:        []agentlog.Sink{sink},
		NewTransport: fleet.Factory,
	})
	require.NoError(t, err)
	return rt, sink
}

func messages(sink *agentlog.MemorySink) []string {
	var out []string
	for _, ev := range sink.Events() {
		out = append(out, ev.Message)
	}
	return out
}

func TestOpen_ExecuteAndClose(t *testing.T) {
	fs := mcptest.NewServer("fs").Tool("read", mcptest.Text("contents"))
	fetch := mcptest.NewServer("fetch")
	fleet := mcptest.NewFleet(fs, fetch)

	rt, sink := openTest(t, twoServers, fleet)
	assert.Equal(t, "run-1", rt.Events.RunID())
	assert.ElementsMatch(t, []string{"fetch", "fs"}, rt.Orchestrator.Servers())

	result, err := rt.Orchestrator.Execute(context.Background(), "fs", "read", map[string]any{"path": "/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, "contents", result.Text())
	assert.Equal(t, 1, fleet.Builds(), "fetch is never touched")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))

	assert.True(t, sink.Closed())
	assert.True(t, fs.LastConn().Closed())

	msgs := messages(sink)
	assert.Contains(t, msgs, "runtime started")
	assert.Contains(t, msgs, "tool call started")
	assert.Equal(t, "runtime stopped", msgs[len(msgs)-1])
	for _, ev := range sink.Events() {
		assert.Equal(t, "run-1", ev.RunID)
	}
}

func TestOpen_RequiresSettings(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestReload_AddsAndRemovesServers(t *testing.T) {
	fs := mcptest.NewServer("fs").Tool("read", mcptest.Text("v1"))
	search := mcptest.NewServer("search").Tool("query", mcptest.Text("hit"))
	fleet := mcptest.NewFleet(fs, search)

	rt, _ := openTest(t, twoServers, fleet)
	defer rt.Close(context.Background())

	_, err := rt.Orchestrator.Execute(context.Background(), "fs", "read", nil)
	require.NoError(t, err)

	next, err := config.Parse([]byte(`
mcp:
  servers:
    fs:
      command: fake-fs
      args: [--v2]
    search:
      command: fake-search
`), nil)
	require.NoError(t, err)
	require.NoError(t, rt.Reload(next))

	assert.True(t, fs.Conns()[0].Closed(), "changed spec closes the old session")
	assert.ElementsMatch(t, []string{"fs", "search"}, rt.Registry.Names())

	_, err = rt.Orchestrator.Execute(context.Background(), "fetch", "get", nil)
	assert.ErrorIs(t, err, mcp.ErrUnknownServer)

	result, err := rt.Orchestrator.Execute(context.Background(), "search", "query", nil)
	require.NoError(t, err)
	assert.Equal(t, "hit", result.Text())
	assert.Len(t, fs.Conns(), 1, "fs reconnects lazily")
}

func TestReload_InvalidSpecsKeepPrevious(t *testing.T) {
	fleet := mcptest.NewFleet(mcptest.NewServer("fs"), mcptest.NewServer("fetch"))
	rt, _ := openTest(t, twoServers, fleet)
	defer rt.Close(context.Background())

	bad := config.Default()
	bad.MCP.Servers["remote"] = config.ServerSettings{Transport: "sse"}
	require.Error(t, rt.Reload(bad))
	assert.ElementsMatch(t, []string{"fetch", "fs"}, rt.Registry.Names())
}
