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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/mcpagent/internal/commands/shared"
)

// CommandMetadata describes one runnable command. Path is the space separated
// path below the root, such as "servers ping".
type CommandMetadata struct {
	Path     string         `json:"path"`
	Short    string         `json:"short"`
	Long     string         `json:"long,omitempty"`
	Usage    string         `json:"usage"`
	Args     string         `json:"args,omitempty"`
	Flags    []FlagMetadata `json:"flags,omitempty"`
	Examples string         `json:"examples,omitempty"`
	Aliases  []string       `json:"aliases,omitempty"`
}

// FlagMetadata represents metadata about a flag
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// HelpResponse is the JSON response for help command
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata     `json:"commands,omitempty"`
	Command     *CommandMetadata      `json:"command,omitempty"`
	GlobalFlags []FlagMetadata        `json:"global_flags"`
	ExitCodes   []shared.ExitCodeInfo `json:"exit_codes"`
}

// NewHelpCommand creates the help command
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

With --json the whole command tree is described, including flag types and
exit codes, so scripts and agents can drive mcpagent without parsing text.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := rootCmd
			if len(args) > 0 {
				found, _, err := rootCmd.Find(args)
				if err != nil || found == rootCmd {
					return fmt.Errorf("command %q not found", strings.Join(args, " "))
				}
				target = found
			}
			if !shared.GetJSON() {
				return target.Help()
			}

			resp := HelpResponse{
				JSONResponse: shared.NewResponse(strings.TrimSpace("help " + commandPath(target, rootCmd))),
				GlobalFlags:  extractFlags(rootCmd.PersistentFlags()),
				ExitCodes:    shared.ExitCodes(),
			}
			if target == rootCmd {
				resp.Commands = walkCommands(rootCmd, rootCmd)
			} else {
				meta := extractCommandMetadata(target, rootCmd)
				resp.Command = &meta
			}
			return shared.EmitJSON(cmd.OutOrStdout(), resp)
		},
	}
}

// walkCommands lists every visible runnable command below parent, depth first.
// Pure groups such as "servers" are skipped; their children are listed.
func walkCommands(parent, rootCmd *cobra.Command) []CommandMetadata {
	var out []CommandMetadata
	for _, c := range parent.Commands() {
		if c.Hidden || c.Name() == "help" {
			continue
		}
		if c.Runnable() {
			out = append(out, extractCommandMetadata(c, rootCmd))
		}
		out = append(out, walkCommands(c, rootCmd)...)
	}
	return out
}

func commandPath(cmd, rootCmd *cobra.Command) string {
	return strings.TrimPrefix(strings.TrimPrefix(cmd.CommandPath(), rootCmd.Name()), " ")
}

func extractCommandMetadata(cmd, rootCmd *cobra.Command) CommandMetadata {
	meta := CommandMetadata{
		Path:     commandPath(cmd, rootCmd),
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Aliases:  cmd.Aliases,
		Flags:    extractFlags(cmd.LocalNonPersistentFlags()),
	}
	if _, args, ok := strings.Cut(cmd.Use, " "); ok {
		meta.Args = args
	}
	return meta
}

func extractFlags(fs *pflag.FlagSet) []FlagMetadata {
	var flags []FlagMetadata
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" {
			return
		}
		flags = append(flags, FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Type:      flag.Value.Type(),
			Usage:     flag.Usage,
			Default:   flag.DefValue,
		})
	})
	return flags
}
