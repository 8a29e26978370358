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

package shared

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/mcp"
)

// Global flag values - set by root command
var (
	verboseFlag     bool
	jsonFlag        bool
	configFlag      string
	secretsFlag     string
	timeoutFlag     time.Duration
	metricsAddrFlag string
	traceFlag       bool
	watchFlag       bool

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// transportFactory replaces real transports in tests
	transportFactory mcp.TransportFactory
)

// RegisterFlags binds the global flags to the root command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&jsonFlag, "json", false, "Output in JSON format")
	flags.StringVar(&configFlag, "config", "", "Path to config file (default: discovered mcpagent.config.yaml)")
	flags.StringVar(&secretsFlag, "secrets", "", "Path to secrets file (default: next to the config file)")
	flags.DurationVar(&timeoutFlag, "timeout", 0, "Bound each command, e.g. 30s (default: no limit)")
	flags.StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	flags.BoolVar(&traceFlag, "trace", false, "Print finished spans to stderr")
	flags.BoolVar(&watchFlag, "watch", false, "Reload config and restart servers whose watch paths change")
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}

// GetJSON returns the JSON output flag value
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// GetSecretsPath returns the secrets file path
func GetSecretsPath() string {
	return secretsFlag
}

// GetTimeout returns the per-command timeout; zero means none.
func GetTimeout() time.Duration {
	return timeoutFlag
}

// GetMetricsAddr returns the metrics listen address.
func GetMetricsAddr() string {
	return metricsAddrFlag
}

// GetTrace reports whether spans are printed.
func GetTrace() bool {
	return traceFlag
}

// GetWatch reports whether watchers are enabled.
func GetWatch() bool {
	return watchFlag
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetConfigPathForTest sets the config path for testing purposes
func SetConfigPathForTest(path string) {
	configFlag = path
}

// SetJSONForTest sets the JSON flag for testing purposes
func SetJSONForTest(v bool) {
	jsonFlag = v
}

// SetTransportFactoryForTest routes every session to f. Pass nil to restore
// real transports.
func SetTransportFactoryForTest(f mcp.TransportFactory) {
	transportFactory = f
}
