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

package main

import (
	"log/slog"

	"github.com/tombee/mcpagent/internal/cli"
	"github.com/tombee/mcpagent/internal/commands/call"
	"github.com/tombee/mcpagent/internal/commands/completion"
	"github.com/tombee/mcpagent/internal/commands/config"
	"github.com/tombee/mcpagent/internal/commands/servers"
	versioncmd "github.com/tombee/mcpagent/internal/commands/version"
	"github.com/tombee/mcpagent/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Used until a command opens the runtime, which logs through its own
	// EventLogger.
	slog.SetDefault(log.New(log.FromEnv()))

	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(call.NewCommand())
	rootCmd.AddCommand(call.NewBatchCommand())
	rootCmd.AddCommand(servers.NewCommand())
	rootCmd.AddCommand(config.NewCommand())
	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
