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
	"encoding/json"
)

// SessionProvider hands out connected sessions by server name.
// Registry implements it; tests substitute fakes.
type SessionProvider interface {
	// Get returns a Ready session for name, connecting lazily.
	Get(ctx context.Context, name string) (ToolCaller, error)

	// Names returns the configured server names, sorted.
	Names() []string
}

// ToolCaller is the part of a Session the orchestrator uses.
type ToolCaller interface {
	// CallTool invokes tools/call.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error)

	// Invoke sends an arbitrary request and returns the raw result.
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)

	// ListTools retrieves the tools the server offers.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Ping checks that the server is responsive.
	Ping(ctx context.Context) error

	// Name returns the server name.
	Name() string

	// State returns the session's lifecycle state.
	State() State
}

var (
	_ ToolCaller      = (*Session)(nil)
	_ SessionProvider = (*registryProvider)(nil)
)

// registryProvider adapts Registry.Get to the interface's return type.
type registryProvider struct {
	r *Registry
}

// Provider returns r as a SessionProvider.
func (r *Registry) Provider() SessionProvider {
	return registryProvider{r: r}
}

func (p registryProvider) Get(ctx context.Context, name string) (ToolCaller, error) {
	s, err := p.r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p registryProvider) Names() []string {
	return p.r.Names()
}
