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

package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/mcpagent/internal/mcp"
)

// BatchResult is the outcome of one call in a batch.
type BatchResult struct {
	Request mcp.ToolCallRequest
	Result  *mcp.ToolCallResult
	Err     error
}

// ExecuteBatch runs calls concurrently, at most MaxConcurrency at a time.
// Results are in input order. A failing call does not cancel the others.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, calls []mcp.ToolCallRequest) []BatchResult {
	results := make([]BatchResult, len(calls))

	var g errgroup.Group
	g.SetLimit(o.batchSize)
	for i, call := range calls {
		results[i].Request = call
		g.Go(func() error {
			results[i].Result, results[i].Err = o.Execute(ctx, call.Server, call.Operation, call.Arguments)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
