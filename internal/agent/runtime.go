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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tombee/mcpagent/internal/config"
	agentlog "github.com/tombee/mcpagent/internal/log"
	"github.com/tombee/mcpagent/internal/mcp"
	"github.com/tombee/mcpagent/internal/orchestrator"
	"github.com/tombee/mcpagent/internal/tracing"
)

// stderrLines is the per-server stderr ring buffer capacity.
const stderrLines = 200

// Options configures Open.
type Options struct {
	// Settings is the validated configuration. Required.
	Settings *config.Settings

	// ConfigPath and SecretsPath are reloaded on change when WatchConfig is set.
	ConfigPath  string
	SecretsPath string
	WatchConfig bool

	// DevWatch restarts sessions when a spec's Watch paths change.
	DevWatch bool

	// SessionID is used as the run id when the logger's unique_id is
	// session_id. Empty generates one.
	SessionID string

	// Version is reported in the handshake and on telemetry.
	Version string

	// Verbose lowers the event threshold to debug.
	Verbose bool

	// Console receives console log sinks. Default: os.Stderr
	Console io.Writer

	// TraceWriter receives finished spans as JSON when set.
	TraceWriter io.Writer

	// Prometheus enables the metrics handler.
	Prometheus bool

	// Sinks replace the configured log sinks. Tests use a MemorySink.
	Sinks []agentlog.Sink

	// NewTransport overrides transport construction.
	NewTransport mcp.TransportFactory

	// Now is the clock for timestamp run ids. Default: time.Now
	Now func() time.Time
}

// Runtime owns every long-lived component of one run.
type Runtime struct {
	Settings     *config.Settings
	Events       *agentlog.EventLogger
	Logger       *slog.Logger
	Telemetry    *tracing.Provider
	Lifecycle    *mcp.EventEmitter
	Logs         *mcp.LogCapture
	Registry     *mcp.Registry
	Orchestrator *orchestrator.Orchestrator

	devWatcher *mcp.Watcher
	cfgWatcher *config.Watcher
	specs      []mcp.ServerSpec
}

// Open builds a Runtime. On error every component built so far is released.
func Open(opts Options) (_ *Runtime, err error) {
	if opts.Settings == nil {
		return nil, errors.New("settings are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := opts.Settings
	specs, err := s.ServerSpecs()
	if err != nil {
		return nil, err
	}

	runID, err := agentlog.NewRunID(s.LogPathSettings(), opts.SessionID, now())
	if err != nil {
		return nil, err
	}

	sinks := opts.Sinks
	if sinks == nil {
		sinks, err = agentlog.OpenSinks(agentlog.SinkConfig{
			Transports: s.Logger.Transports,
			Format:     agentlog.Format(s.Logger.Format),
			Console:    opts.Console,
			Path:       s.Logger.PathSettings.PathPattern,
			RunID:      runID,
		})
		if err != nil {
			return nil, fmt.Errorf("open log sinks: %w", err)
		}
	}

	level := s.LogLevel()
	if opts.Verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	r := &Runtime{Settings: s, specs: specs}
	r.Events = agentlog.NewEventLogger(agentlog.EventLoggerConfig{
		RunID: runID,
		Level: level,
		Sinks: sinks,
	})
	r.Logger = agentlog.WithRunContext(r.Events.Slog(), runID)
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Close(ctx)
		}
	}()

	r.Telemetry, err = tracing.NewProvider(tracing.Config{
		ServiceName:    "mcpagent",
		ServiceVersion: version,
		TraceWriter:    opts.TraceWriter,
		PrettyPrint:    true,
		Prometheus:     opts.Prometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	r.Lifecycle = mcp.NewEventEmitter(r.Logger)
	r.Logs = mcp.NewLogCapture(stderrLines)
	r.Registry, err = mcp.NewRegistry(mcp.RegistryConfig{
		Specs:         specs,
		Logger:        r.Logger,
		Events:        r.Lifecycle,
		LogCapture:    r.Logs,
		ClientName:    "mcpagent",
		ClientVersion: version,
		NewTransport:  opts.NewTransport,
	})
	if err != nil {
		return nil, err
	}

	r.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Provider:       r.Registry.Provider(),
		Logger:         r.Logger,
		Events:         r.Lifecycle,
		TracerProvider: r.Telemetry.TracerProvider(),
		Metrics:        r.Telemetry.Metrics(),
		MaxConcurrency: s.BatchConcurrency(),
	})
	if err != nil {
		return nil, err
	}

	if opts.DevWatch {
		r.devWatcher, err = mcp.NewWatcher(mcp.WatcherConfig{
			Restarter: r.Registry,
			Events:    r.Lifecycle,
			Logger:    r.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("start dev watcher: %w", err)
		}
		if err = r.devWatcher.WatchSpecs(specs); err != nil {
			return nil, err
		}
	}

	if opts.WatchConfig && opts.ConfigPath != "" {
		r.cfgWatcher, err = config.NewWatcher(config.WatcherConfig{
			Path:        opts.ConfigPath,
			SecretsPath: opts.SecretsPath,
			Logger:      r.Logger,
			OnChange: func(next *config.Settings) {
				if err := r.Reload(next); err != nil {
					r.Logger.Error("config reload rejected", "error", err)
				}
			},
			OnError: func(err error) {
				r.Logger.Warn("config reload failed", "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("start config watcher: %w", err)
		}
	}

	r.Logger.Info("runtime started", "servers", len(specs), "engine", s.ExecutionEngine)
	return r, nil
}

// Reload swaps in new server specs. Sessions of changed or removed servers
// are closed and rebuilt on next use. Logger and engine settings are fixed
// for the life of the run.
func (r *Runtime) Reload(next *config.Settings) error {
	specs, err := next.ServerSpecs()
	if err != nil {
		return err
	}
	closed, err := r.Registry.SetSpecs(specs)
	if err != nil {
		return err
	}

	if r.devWatcher != nil {
		keep := make(map[string]bool, len(specs))
		for _, spec := range specs {
			keep[spec.Name] = len(spec.Watch) > 0
		}
		for _, old := range r.specs {
			if !keep[old.Name] {
				_ = r.devWatcher.Unwatch(old.Name)
			}
		}
		if err := r.devWatcher.WatchSpecs(specs); err != nil {
			return err
		}
	}

	r.specs = specs
	r.Logger.Info("config reloaded", "servers", len(specs), "restarted", closed)
	return nil
}

// Close stops the watchers, shuts down every session, flushes telemetry and
// finally drains the event logger. It returns every failure joined.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.cfgWatcher != nil {
		errs = append(errs, r.cfgWatcher.Close())
	}
	if r.devWatcher != nil {
		errs = append(errs, r.devWatcher.Close())
	}
	if r.Registry != nil {
		results, err := r.Registry.ShutdownAll(ctx)
		for _, res := range results {
			if res.Err != nil {
				r.Logger.Warn("session shutdown failed", "server", res.Server, "error", res.Err)
			}
		}
		errs = append(errs, err)
	}
	if r.Telemetry != nil {
		errs = append(errs, r.Telemetry.Shutdown(ctx))
	}
	if r.Events != nil {
		r.Logger.Info("runtime stopped")
		errs = append(errs, r.Events.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
