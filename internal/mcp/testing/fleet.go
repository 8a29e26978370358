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

package testing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tombee/mcpagent/internal/mcp/transport"
)

// Fleet routes transport construction to scripted servers by server name.
type Fleet struct {
	mu      sync.Mutex
	servers map[string]*Server
	builds  atomic.Int64
}

// NewFleet creates a fleet serving the given servers.
func NewFleet(servers ...*Server) *Fleet {
	f := &Fleet{servers: make(map[string]*Server)}
	for _, s := range servers {
		f.servers[s.Name] = s
	}
	return f
}

// Add registers another server, replacing one with the same name.
func (f *Fleet) Add(s *Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[s.Name] = s
}

// Factory builds a connection to the server named by cfg.Name.
func (f *Fleet) Factory(cfg transport.Config) (transport.Transport, error) {
	f.builds.Add(1)
	f.mu.Lock()
	srv, ok := f.servers[cfg.Name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no scripted server %q", cfg.Name)
	}
	return srv.Factory()(cfg)
}

// Builds reports how many transports were requested.
func (f *Fleet) Builds() int {
	return int(f.builds.Load())
}
