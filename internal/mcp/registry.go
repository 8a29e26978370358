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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	agentlog "github.com/tombee/mcpagent/internal/log"
)

// RegistryConfig configures the server registry.
type RegistryConfig struct {
	// Specs are the known servers. Names must be unique.
	Specs []ServerSpec

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Events receives session lifecycle events (optional)
	Events *EventEmitter

	// LogCapture captures stdio server stderr (optional)
	LogCapture *LogCapture

	// ClientName and ClientVersion are sent in every handshake.
	ClientName    string
	ClientVersion string

	// NewTransport overrides transport construction (optional)
	NewTransport TransportFactory
}

// ServerStatus is a point-in-time view of one server.
type ServerStatus struct {
	Name      string      `json:"name"`
	Transport string      `json:"transport"`
	State     string      `json:"state"`
	Pending   int         `json:"pending"`
	LastError string      `json:"last_error,omitempty"`
	Info      *ServerInfo `json:"info,omitempty"`
}

// ShutdownResult is the outcome of closing one session.
type ShutdownResult struct {
	Server string
	// State is the session state before shutdown.
	State State
	Err   error
}

// Registry maps server names to sessions. Sessions are created lazily on
// first use and there is at most one per name.
type Registry struct {
	logger        *slog.Logger
	events        *EventEmitter
	logs          *LogCapture
	clientName    string
	clientVersion string
	newTransport  TransportFactory

	mu       sync.Mutex
	specs    map[string]ServerSpec
	sessions map[string]*Session
	retiring map[string]chan struct{}
	closed   bool
}

// NewRegistry validates the specs and creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	specs, err := indexSpecs(cfg.Specs)
	if err != nil {
		return nil, err
	}

	return &Registry{
		logger:        agentlog.WithComponent(logger, "registry"),
		events:        cfg.Events,
		logs:          cfg.LogCapture,
		clientName:    cfg.ClientName,
		clientVersion: cfg.ClientVersion,
		newTransport:  cfg.NewTransport,
		specs:         specs,
		sessions:      make(map[string]*Session),
		retiring:      make(map[string]chan struct{}),
	}, nil
}

func indexSpecs(list []ServerSpec) (map[string]ServerSpec, error) {
	specs := make(map[string]ServerSpec, len(list))
	for _, spec := range list {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := specs[spec.Name]; dup {
			return nil, ErrInvalidConfig(spec.Name, "duplicate server name")
		}
		specs[spec.Name] = spec
	}
	return specs, nil
}

func (r *Registry) newSession(spec ServerSpec) *Session {
	return NewSession(SessionConfig{
		Spec:          spec,
		Logger:        r.logger,
		Events:        r.events,
		Logs:          r.logs,
		ClientName:    r.clientName,
		ClientVersion: r.clientVersion,
		NewTransport:  r.newTransport,
	})
}

// Get returns a connected session for name, creating and connecting it on
// first use. A Failed or Closing session is closed fully before a fresh one
// replaces it, so at most one session per server holds a transport. Unknown
// names fail without any connection attempt.
func (r *Registry) Get(ctx context.Context, name string) (*Session, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, NewMCPError(CodeNotReady, "registry is shut down").WithServer(name)
		}
		spec, ok := r.specs[name]
		if !ok {
			r.mu.Unlock()
			return nil, NewUnknownServer(name)
		}

		if wait, ok := r.retiring[name]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, NewCancelled(name, "connect", ctx.Err())
			}
		}

		sess := r.sessions[name]
		if sess != nil {
			switch sess.State() {
			case StateFailed, StateClosing:
				r.retire(name, sess)
				continue
			}
		}
		if sess == nil {
			sess = r.newSession(spec)
			r.sessions[name] = sess
			r.logger.Debug("session created", agentlog.ServerKey, name)
		}
		r.mu.Unlock()

		if err := sess.Connect(ctx); err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// retire closes a stale session and unmaps it. Called with r.mu held; returns
// with it released. Concurrent Get calls for name wait until it finishes.
func (r *Registry) retire(name string, stale *Session) {
	wait := make(chan struct{})
	r.retiring[name] = wait
	r.mu.Unlock()

	_ = stale.Close()

	r.mu.Lock()
	delete(r.retiring, name)
	if r.sessions[name] == stale {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	close(wait)
	r.logger.Debug("stale session retired", agentlog.ServerKey, name)
}

// Lookup returns the current session for name without connecting.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[name]
	return sess, ok
}

// Spec returns the spec for name.
func (r *Registry) Spec(name string) (ServerSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the configured server names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns a snapshot for every configured server, sorted by name.
func (r *Registry) Status() []ServerStatus {
	r.mu.Lock()
	specs := make([]ServerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sessions := make(map[string]*Session, len(r.sessions))
	for name, sess := range r.sessions {
		sessions[name] = sess
	}
	r.mu.Unlock()

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	out := make([]ServerStatus, 0, len(specs))
	for _, spec := range specs {
		st := ServerStatus{
			Name:      spec.Name,
			Transport: string(spec.Transport),
			State:     StateDisconnected.String(),
		}
		if st.Transport == "" {
			st.Transport = "stdio"
		}
		if sess, ok := sessions[spec.Name]; ok {
			st.State = sess.State().String()
			st.Pending = sess.Pending()
			st.Info = sess.Info()
			if err := sess.LastError(); err != nil {
				st.LastError = err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

// Restart closes the session for name. If it was Ready, a fresh session is
// connected before Restart returns.
func (r *Registry) Restart(ctx context.Context, name string) error {
	r.mu.Lock()
	if _, ok := r.specs[name]; !ok {
		r.mu.Unlock()
		return NewUnknownServer(name)
	}
	sess := r.sessions[name]
	delete(r.sessions, name)
	r.mu.Unlock()

	if sess == nil {
		return nil
	}

	wasReady := sess.State() == StateReady
	r.events.EmitRestarting(name, "restart requested")
	if err := sess.Close(); err != nil {
		r.logger.Warn("close during restart failed", agentlog.ServerKey, name, "error", err)
	}
	if !wasReady {
		return nil
	}
	_, err := r.Get(ctx, name)
	return err
}

// SetSpecs replaces the known servers. Sessions of removed or changed specs
// are closed; the next Get builds them from the new spec. It returns the
// names whose sessions were closed.
func (r *Registry) SetSpecs(list []ServerSpec) ([]string, error) {
	specs, err := indexSpecs(list)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	var affected []*Session
	var removed []string
	for name, old := range r.specs {
		next, ok := specs[name]
		if ok && next.Equal(old) {
			continue
		}
		if !ok {
			removed = append(removed, name)
		}
		if sess, ok := r.sessions[name]; ok {
			affected = append(affected, sess)
			delete(r.sessions, name)
		}
	}
	r.specs = specs
	r.mu.Unlock()

	var g errgroup.Group
	names := make([]string, len(affected))
	for i, sess := range affected {
		names[i] = sess.Name()
		g.Go(func() error {
			return sess.Close()
		})
	}
	closeErr := g.Wait()

	if r.logs != nil {
		for _, name := range removed {
			r.logs.Forget(name)
		}
	}

	sort.Strings(names)
	r.logger.Info("server specs updated", "servers", len(specs), "closed", names)
	return names, closeErr
}

// ShutdownAll closes every session in parallel. Failures do not stop other
// sessions from closing. The registry refuses new sessions afterwards.
func (r *Registry) ShutdownAll(ctx context.Context) ([]ShutdownResult, error) {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name() < sessions[j].Name() })
	results := make([]ShutdownResult, len(sessions))

	var g errgroup.Group
	for i, sess := range sessions {
		results[i] = ShutdownResult{Server: sess.Name(), State: sess.State()}
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- sess.Close() }()
			select {
			case err := <-done:
				results[i].Err = err
			case <-ctx.Done():
				results[i].Err = fmt.Errorf("close %s: %w", sess.Name(), ctx.Err())
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	r.logger.Info("registry shut down", "sessions", len(results), "errors", len(errs))
	return results, errors.Join(errs...)
}
