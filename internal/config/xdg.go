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
	"os"
	"path/filepath"

	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// File names searched by Discover.
const (
	ConfigFileName  = "mcpagent.config.yaml"
	SecretsFileName = "mcpagent.secrets.yaml"
)

// ConfigDir returns the XDG config directory for mcpagent.
// Respects XDG_CONFIG_HOME; otherwise ~/.config/mcpagent on every platform.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mcpagent"), nil
}

// Discover finds the settings file: the nearest ConfigFileName in start or
// one of its parents, then config.yaml in ConfigDir.
func Discover(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if exists(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if cfgDir, err := ConfigDir(); err == nil {
		candidate := filepath.Join(cfgDir, "config.yaml")
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", &agenterrors.NotFoundError{Resource: "settings file", ID: ConfigFileName}
}

// SecretsPathFor returns the secrets file that sits next to configPath.
func SecretsPathFor(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), SecretsFileName)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
