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

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/config"
	agentlog "github.com/tombee/mcpagent/internal/log"
)

// NewCommand creates the config command with subcommands
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "config",
		Annotations: map[string]string{
			"group": "configuration",
		},
		Short: "View and validate configuration",
		Long: `View and validate mcpagent configuration.

Subcommands:
  show     - Display the effective configuration with secrets merged and masked
  path     - Show which config and secrets files are used
  validate - Check the configuration without starting any server`,
	}

	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newPathCommand())
	cmd.AddCommand(newValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runShow

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after the secrets file is merged, environment
references are expanded and defaults are applied.

Header values, environment values and API keys are masked.
Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: runShow,
	}
}

func newPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file locations",
		Long:  `Display the config file that would be loaded and its secrets file.`,
		Args:  cobra.NoArgs,
		RunE:  runPath,
	}
}

func runShow(cmd *cobra.Command, _ []string) error {
	settings, path, _, err := shared.LoadSettings()
	if err != nil {
		return err
	}
	masked := Mask(settings)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		doc, err := toDocument(masked)
		if err != nil {
			return err
		}
		return shared.EmitJSON(out, doc)
	}

	fmt.Fprintf(out, "Configuration: %s\n", path)
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(masked); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func runPath(cmd *cobra.Command, _ []string) error {
	path, secrets, err := shared.ResolveConfigPaths()
	if err != nil {
		return shared.NewConfigError("no configuration", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]string{"config": path, "secrets": secrets})
	}
	fmt.Fprintln(out, path)
	fmt.Fprintln(out, secrets)
	return nil
}

// Mask returns a copy of settings with credentials masked.
func Mask(s *config.Settings) *config.Settings {
	masked := *s
	masked.OpenAI.APIKey = maskValue(s.OpenAI.APIKey)

	masked.MCP.Servers = make(map[string]config.ServerSettings, len(s.MCP.Servers))
	for name, srv := range s.MCP.Servers {
		srv.Headers = agentlog.SanitizeHeaders(srv.Headers)
		srv.Env = maskMap(srv.Env)
		masked.MCP.Servers[name] = srv
	}
	return &masked
}

func maskMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v string) string {
	if v == "" {
		return ""
	}
	return agentlog.SanitizeSecret(v)
}

// toDocument renders settings through their YAML field names so JSON output
// uses the same keys as the config file.
func toDocument(s *config.Settings) (map[string]any, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
