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

package completion

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/shared"
	"github.com/tombee/mcpagent/internal/config"
)

// CheckFilePermissions reports whether path is no more permissive than 0600.
// Completion refuses to read world-readable files that may hold credentials.
func CheckFilePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm() <= 0o600
}

// SafeCompletionWrapper recovers from panics in completion functions and
// normalizes nil results.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// CompleteServerNames completes server names from the config file. Names
// already given on the command line are skipped.
func CompleteServerNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		path, secrets, err := shared.ResolveConfigPaths()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		if !CheckFilePermissions(secrets) {
			secrets = ""
		}
		settings, err := config.Load(path, secrets)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		used := make(map[string]bool, len(args))
		for _, a := range args {
			used[a] = true
		}
		var names []string
		for _, name := range settings.ServerNames() {
			if !used[name] && strings.HasPrefix(name, toComplete) {
				names = append(names, name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteFirstArgServer completes a server name for the first positional
// argument only.
func CompleteFirstArgServer(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return CompleteServerNames(cmd, args, toComplete)
}
