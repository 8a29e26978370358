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

// Package config loads the mcpagent settings file.
//
// A settings document may be paired with a secrets document that is
// deep-merged on top of it, so credentials can live outside version control.
// String values may reference environment variables as ${VAR} or
// ${VAR:-default}.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agentlog "github.com/tombee/mcpagent/internal/log"
	"github.com/tombee/mcpagent/internal/mcp"
	"github.com/tombee/mcpagent/internal/mcp/transport"
	agenterrors "github.com/tombee/mcpagent/pkg/errors"
)

// Execution engines.
const (
	EngineConcurrent = "concurrent"
	EngineInline     = "inline"
)

// Settings is the root of the settings document.
type Settings struct {
	// ExecutionEngine selects how batches of tool calls run: "concurrent"
	// fans out, "inline" runs them one at a time.
	ExecutionEngine string `yaml:"execution_engine"`

	Logger LoggerSettings `yaml:"logger"`
	MCP    MCPSettings    `yaml:"mcp"`
	OpenAI OpenAISettings `yaml:"openai"`
}

// LoggerSettings configures the run's event logger.
type LoggerSettings struct {
	// Transports lists sinks: console, file, none.
	Transports []string `yaml:"transports"`

	// Level is the event threshold: trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the console format: text or json.
	Format string `yaml:"format"`

	PathSettings PathSettings `yaml:"path_settings"`
}

// PathSettings names the file sink and how its unique id is derived.
type PathSettings struct {
	PathPattern     string `yaml:"path_pattern"`
	UniqueID        string `yaml:"unique_id"`
	TimestampFormat string `yaml:"timestamp_format"`
}

// MCPSettings holds the tool servers keyed by name.
type MCPSettings struct {
	Servers map[string]ServerSettings `yaml:"servers"`
}

// ServerSettings describes one tool server as written in the document.
type ServerSettings struct {
	Transport               string            `yaml:"transport"`
	Command                 string            `yaml:"command"`
	Args                    []string          `yaml:"args"`
	Env                     map[string]string `yaml:"env"`
	Cwd                     string            `yaml:"cwd"`
	URL                     string            `yaml:"url"`
	Headers                 map[string]string `yaml:"headers"`
	HandshakeTimeoutSeconds float64           `yaml:"handshake_timeout_seconds"`
	GracePeriodSeconds      float64           `yaml:"grace_period_seconds"`
	Watch                   []string          `yaml:"watch"`
}

// OpenAISettings is carried for the reasoning loop; mcpagent itself does not
// call a model.
type OpenAISettings struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	return &Settings{
		ExecutionEngine: EngineConcurrent,
		Logger: LoggerSettings{
			Transports: []string{agentlog.TransportConsole},
			Level:      "info",
			Format:     string(agentlog.FormatText),
			PathSettings: PathSettings{
				PathPattern:     "logs/mcpagent-{unique_id}.jsonl",
				UniqueID:        agentlog.UniqueIDTimestamp,
				TimestampFormat: agentlog.DefaultTimestampFormat,
			},
		},
		MCP: MCPSettings{Servers: map[string]ServerSettings{}},
	}
}

// Load reads the settings file and, if secretsPath is non-empty, the secrets
// file. A missing secrets file is not an error.
func Load(path, secretsPath string) (*Settings, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "config_file",
			Reason: fmt.Sprintf("failed to load from %s", path),
			Cause:  err,
		}
	}

	var secrets []byte
	if secretsPath != "" {
		secrets, err = readFile(secretsPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &agenterrors.ConfigError{
				Key:    "secrets_file",
				Reason: fmt.Sprintf("failed to load from %s", secretsPath),
				Cause:  err,
			}
		}
	}

	return Parse(data, secrets)
}

func readFile(path string) ([]byte, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return os.ReadFile(path)
}

// Parse decodes a settings document and an optional secrets document,
// expands environment references, applies defaults and validates.
func Parse(data, secrets []byte) (*Settings, error) {
	base, err := decodeTree(data)
	if err != nil {
		return nil, &agenterrors.ConfigError{Key: "config_file", Reason: "failed to parse YAML", Cause: err}
	}
	if len(secrets) > 0 {
		overlay, err := decodeTree(secrets)
		if err != nil {
			return nil, &agenterrors.ConfigError{Key: "secrets_file", Reason: "failed to parse YAML", Cause: err}
		}
		base = deepMerge(base, overlay)
	}
	expanded := expandTree(base, os.LookupEnv)

	merged, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, &agenterrors.ConfigError{Reason: "failed to re-encode merged settings", Cause: err}
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(merged))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &agenterrors.ConfigError{Key: "config_file", Reason: "invalid settings", Cause: err}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial document.
func (s *Settings) applyDefaults() {
	d := Default()
	if s.ExecutionEngine == "" {
		s.ExecutionEngine = d.ExecutionEngine
	}
	if len(s.Logger.Transports) == 0 {
		s.Logger.Transports = d.Logger.Transports
	}
	if s.Logger.Level == "" {
		s.Logger.Level = d.Logger.Level
	}
	if s.Logger.Format == "" {
		s.Logger.Format = d.Logger.Format
	}
	ps := &s.Logger.PathSettings
	if ps.PathPattern == "" {
		ps.PathPattern = d.Logger.PathSettings.PathPattern
	}
	if ps.UniqueID == "" {
		ps.UniqueID = d.Logger.PathSettings.UniqueID
	}
	if ps.TimestampFormat == "" {
		ps.TimestampFormat = d.Logger.PathSettings.TimestampFormat
	}
	if s.MCP.Servers == nil {
		s.MCP.Servers = map[string]ServerSettings{}
	}
	for name, srv := range s.MCP.Servers {
		if srv.Transport == "" {
			srv.Transport = string(transport.KindStdio)
			s.MCP.Servers[name] = srv
		}
	}
}

// Validate checks the settings and returns a *ConfigError naming the first
// offending key.
func (s *Settings) Validate() error {
	switch s.ExecutionEngine {
	case EngineConcurrent, EngineInline:
	default:
		return &agenterrors.ConfigError{
			Key:    "execution_engine",
			Reason: fmt.Sprintf("must be %s or %s, got %q", EngineConcurrent, EngineInline, s.ExecutionEngine),
		}
	}

	for _, t := range s.Logger.Transports {
		switch t {
		case agentlog.TransportConsole, agentlog.TransportFile, agentlog.TransportNone:
		default:
			return &agenterrors.ConfigError{
				Key:    "logger.transports",
				Reason: fmt.Sprintf("unknown transport %q (want console, file or none)", t),
			}
		}
	}
	switch strings.ToLower(s.Logger.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &agenterrors.ConfigError{
			Key:    "logger.level",
			Reason: fmt.Sprintf("must be one of [trace, debug, info, warn, error], got %q", s.Logger.Level),
		}
	}
	switch agentlog.Format(s.Logger.Format) {
	case agentlog.FormatJSON, agentlog.FormatText:
	default:
		return &agenterrors.ConfigError{
			Key:    "logger.format",
			Reason: fmt.Sprintf("must be json or text, got %q", s.Logger.Format),
		}
	}
	switch s.Logger.PathSettings.UniqueID {
	case agentlog.UniqueIDTimestamp, agentlog.UniqueIDSessionID:
	default:
		return &agenterrors.ConfigError{
			Key:    "logger.path_settings.unique_id",
			Reason: fmt.Sprintf("must be timestamp or session_id, got %q", s.Logger.PathSettings.UniqueID),
		}
	}

	for _, name := range s.ServerNames() {
		spec := s.MCP.Servers[name].spec(name)
		if err := spec.Validate(); err != nil {
			return &agenterrors.ConfigError{
				Key:    "mcp.servers." + name,
				Reason: validationReason(err),
				Cause:  err,
			}
		}
		srv := s.MCP.Servers[name]
		if srv.HandshakeTimeoutSeconds < 0 || srv.GracePeriodSeconds < 0 {
			return &agenterrors.ConfigError{
				Key:    "mcp.servers." + name,
				Reason: "timeouts must not be negative",
			}
		}
	}
	return nil
}

func validationReason(err error) string {
	if e, ok := mcp.AsMCPError(err); ok {
		if e.Detail != "" {
			return e.Message + ": " + e.Detail
		}
		return e.Message
	}
	return err.Error()
}

// ServerNames returns the configured server names, sorted.
func (s *Settings) ServerNames() []string {
	names := make([]string, 0, len(s.MCP.Servers))
	for name := range s.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerSpecs converts the servers into validated specs, sorted by name.
func (s *Settings) ServerSpecs() ([]mcp.ServerSpec, error) {
	specs := make([]mcp.ServerSpec, 0, len(s.MCP.Servers))
	for _, name := range s.ServerNames() {
		spec := s.MCP.Servers[name].spec(name)
		if err := spec.Validate(); err != nil {
			return nil, &agenterrors.ConfigError{Key: "mcp.servers." + name, Reason: validationReason(err), Cause: err}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (srv ServerSettings) spec(name string) mcp.ServerSpec {
	return mcp.ServerSpec{
		Name:             name,
		Transport:        transport.Kind(srv.Transport),
		Command:          srv.Command,
		Args:             srv.Args,
		Env:              srv.Env,
		Dir:              srv.Cwd,
		URL:              srv.URL,
		Headers:          srv.Headers,
		HandshakeTimeout: seconds(srv.HandshakeTimeoutSeconds),
		GracePeriod:      seconds(srv.GracePeriodSeconds),
		Watch:            srv.Watch,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// LogPathSettings returns the logger's unique-id settings.
func (s *Settings) LogPathSettings() agentlog.PathSettings {
	ps := s.Logger.PathSettings
	return agentlog.PathSettings{
		PathPattern:     ps.PathPattern,
		UniqueID:        ps.UniqueID,
		TimestampFormat: ps.TimestampFormat,
	}
}

// LogLevel parses the logger level.
func (s *Settings) LogLevel() slog.Level {
	return agentlog.ParseLevel(s.Logger.Level)
}

// BatchConcurrency is the fan-out limit implied by the execution engine.
// Zero means the orchestrator default.
func (s *Settings) BatchConcurrency() int {
	if s.ExecutionEngine == EngineInline {
		return 1
	}
	return 0
}
