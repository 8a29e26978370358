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

/*
Package lifecycle terminates tool-server child processes.

A stdio tool server is a child process whose stdin carries requests. Shutting
it down follows a fixed escalation:

	close stdin -> SIGTERM -> grace period -> SIGKILL

The caller closes stdin (the transport owns that pipe) and then hands the
process to Terminate together with a channel that is closed once cmd.Wait
returns:

	exited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(exited) }()
	...
	result, err := lifecycle.Terminate(cmd.Process, exited, lifecycle.DefaultGracePeriod)

Terminate never calls Wait itself, so the reaping goroutine stays the single
owner of the process state.
*/
package lifecycle
