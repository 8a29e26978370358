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

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/config"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	shared.JSONResponse
	Path     string   `json:"path,omitempty"`
	Valid    bool     `json:"valid"`
	Servers  int      `json:"servers"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration without starting any server.

Checks performed:
  - YAML syntax and unknown keys
  - Secrets file merge and environment expansion
  - Logger settings
  - Every server spec (name, transport, command or URL)

Warnings flag settings that are valid but probably unintended.
With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  mcpagent config validate

  # Validate with warnings as errors
  mcpagent config validate --strict

  # Get validation result as JSON
  mcpagent config validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, strict bool) error {
	result := ValidationResult{JSONResponse: shared.NewResponse("config validate")}

	path, secrets, err := shared.ResolveConfigPaths()
	if err == nil {
		result.Path = path
		var settings *config.Settings
		settings, err = config.Load(path, secrets)
		if err == nil {
			result.Servers = len(settings.MCP.Servers)
			result.Warnings = Warnings(settings)
		}
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if strict {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	result.Valid = len(result.Errors) == 0
	result.Success = result.Valid

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if result.Valid {
			fmt.Fprintf(out, "Configuration is valid (%d servers).\n", result.Servers)
		}
	}

	if !result.Valid {
		return shared.NewConfigError("configuration is invalid", err)
	}
	return nil
}

// Warnings lists settings that validate but are likely mistakes.
func Warnings(s *config.Settings) []string {
	var warnings []string
	if len(s.MCP.Servers) == 0 {
		warnings = append(warnings, "no servers configured under mcp.servers")
	}
	hasFile := false
	for _, t := range s.Logger.Transports {
		if t == "file" {
			hasFile = true
		}
	}
	if hasFile && s.Logger.PathSettings.PathPattern == "" {
		warnings = append(warnings, "logger.transports includes file but path_settings.path_pattern is empty")
	}
	for _, name := range s.ServerNames() {
		srv := s.MCP.Servers[name]
		if srv.Transport != "" && srv.Transport != "stdio" && srv.Command != "" {
			warnings = append(warnings, fmt.Sprintf("mcp.servers.%s: command is ignored for %s transport", name, srv.Transport))
		}
		if len(srv.Watch) > 0 && srv.Transport != "" && srv.Transport != "stdio" {
			warnings = append(warnings, fmt.Sprintf("mcp.servers.%s: watch only restarts local servers", name))
		}
	}
	return warnings
}
