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

/*
Package cli provides the root command and shared configuration for the mcpagent CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

The CLI is organized as:

	mcpagent
	├── call          Call one tool on a server
	├── batch         Run many tool calls concurrently
	├── servers       Inspect configured tool servers
	│   ├── list
	│   ├── tools
	│   └── ping
	├── config        Show, locate and validate configuration
	├── completion    Shell completion scripts
	├── version       Show version
	└── help          Show help (--json for machine-readable output)

# Global Flags

All commands inherit these flags:

	--verbose, -v     Enable debug logging
	--json            Output in JSON format
	--config          Path to config file
	--secrets         Path to secrets file
	--timeout         Bound the command
	--metrics-addr    Serve Prometheus metrics while the command runs
	--trace           Print finished spans to stderr
	--watch           Reload config and restart servers on file changes

# Error Handling

Errors are handled centrally to ensure proper exit codes:

  - Exit 0: Success
  - Exit 1: Execution failed
  - Exit 2: Invalid configuration or unknown server
  - Exit 3: Tool reported an error
  - Exit 4: Server unavailable
  - Exit 5: Cancelled or timed out

Use HandleExitError for consistent error handling:

	if err := cmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
