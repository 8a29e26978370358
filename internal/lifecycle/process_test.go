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

package lifecycle

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReaped(t *testing.T, name string, args ...string) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("signal escalation is unix-only")
	}

	cmd := exec.Command(name, args...)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-exited
	})
	return cmd, exited
}

func TestIsProcessRunning(t *testing.T) {
	t.Run("returns true for current process", func(t *testing.T) {
		assert.True(t, IsProcessRunning(os.Getpid()))
	})

	t.Run("returns false for non-existent PID", func(t *testing.T) {
		assert.False(t, IsProcessRunning(999999))
	})
}

func TestTerminate(t *testing.T) {
	t.Run("SIGTERM within grace", func(t *testing.T) {
		cmd, exited := startReaped(t, "sleep", "60")

		outcome, err := Terminate(cmd.Process, exited, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, Terminated, outcome)
	})

	t.Run("escalates to SIGKILL when SIGTERM is ignored", func(t *testing.T) {
		cmd, exited := startReaped(t, "sh", "-c", "trap '' TERM; while true; do sleep 0.05; done")
		// Give the shell time to install the trap.
		time.Sleep(200 * time.Millisecond)

		start := time.Now()
		outcome, err := Terminate(cmd.Process, exited, 300*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, Killed, outcome)
		assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	})

	t.Run("already exited", func(t *testing.T) {
		cmd, exited := startReaped(t, "true")
		<-exited

		outcome, err := Terminate(cmd.Process, exited, time.Second)
		require.NoError(t, err)
		assert.Equal(t, AlreadyExited, outcome)
	})

	t.Run("bounded wait when exit is never observed", func(t *testing.T) {
		prev := killWait
		killWait = 100 * time.Millisecond
		t.Cleanup(func() { killWait = prev })

		cmd, reaped := startReaped(t, "true")
		<-reaped
		// A descendant holding the pipes keeps this channel open forever.
		never := make(chan struct{})

		start := time.Now()
		outcome, err := Terminate(cmd.Process, never, time.Second)
		assert.ErrorIs(t, err, ErrShutdownTimeout)
		assert.Equal(t, AlreadyExited, outcome)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("nil process", func(t *testing.T) {
		_, err := Terminate(nil, nil, time.Second)
		assert.ErrorIs(t, err, ErrProcessNotRunning)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "already_exited", AlreadyExited.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "killed", Killed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
