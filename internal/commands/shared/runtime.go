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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/agent"
	"github.com/tombee/mcpagent/internal/config"
)

// shutdownTimeout bounds runtime teardown after a command finishes.
const shutdownTimeout = 10 * time.Second

// ResolveConfigPaths returns the config and secrets paths from the flags,
// falling back to discovery from the working directory.
func ResolveConfigPaths() (string, string, error) {
	path := GetConfigPath()
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", "", err
		}
		path, err = config.Discover(wd)
		if err != nil {
			return "", "", err
		}
	}
	secrets := GetSecretsPath()
	if secrets == "" {
		secrets = config.SecretsPathFor(path)
	}
	return path, secrets, nil
}

// LoadSettings loads the settings named by the flags. It also returns the
// resolved config and secrets paths.
func LoadSettings() (*config.Settings, string, string, error) {
	path, secrets, err := ResolveConfigPaths()
	if err != nil {
		return nil, "", "", NewConfigError("no configuration", err)
	}
	settings, err := config.Load(path, secrets)
	if err != nil {
		return nil, path, secrets, NewConfigError("invalid configuration", err)
	}
	return settings, path, secrets, nil
}

// CommandContext derives the command's context: interrupted by SIGINT or
// SIGTERM and bounded by --timeout.
func CommandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if d := GetTimeout(); d > 0 {
		tctx, cancel := context.WithTimeout(ctx, d)
		return tctx, func() {
			cancel()
			stop()
		}
	}
	return ctx, stop
}

// OpenRuntime loads settings and opens a runtime configured from the global
// flags. The returned close func shuts everything down and reports failures
// to the command's stderr.
func OpenRuntime(cmd *cobra.Command) (*agent.Runtime, func(), error) {
	settings, path, secrets, err := LoadSettings()
	if err != nil {
		return nil, nil, err
	}

	opts := agent.Options{
		Settings:     settings,
		ConfigPath:   path,
		SecretsPath:  secrets,
		WatchConfig:  GetWatch(),
		DevWatch:     GetWatch(),
		Version:      version,
		Verbose:      GetVerbose(),
		Console:      cmd.ErrOrStderr(),
		Prometheus:   GetMetricsAddr() != "",
		NewTransport: transportFactory,
	}
	if GetTrace() {
		opts.TraceWriter = cmd.ErrOrStderr()
	}

	rt, err := agent.Open(opts)
	if err != nil {
		return nil, nil, NewConfigError("failed to start runtime", err)
	}

	var srv *http.Server
	if addr := GetMetricsAddr(); addr != "" {
		srv, err = serveMetrics(rt, addr)
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = rt.Close(ctx)
			return nil, nil, NewExecutionError("failed to serve metrics", err)
		}
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
		if err := rt.Close(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: shutdown:", err)
		}
	}
	return rt, closeFn, nil
}

func serveMetrics(rt *agent.Runtime, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Telemetry.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	rt.Logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
