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
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a child gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// killWait bounds the wait for exited after SIGKILL, or after finding the
// process already gone. exited may lag the process when a descendant still
// holds its output pipes.
var killWait = 5 * time.Second

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit after SIGKILL.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Outcome describes how a child process ended.
type Outcome int

const (
	// AlreadyExited means the process was gone before any signal was sent.
	AlreadyExited Outcome = iota
	// Terminated means the process exited within the grace period after SIGTERM.
	Terminated
	// Killed means the grace period elapsed and SIGKILL was sent.
	Killed
)

// String returns the outcome name used in log fields.
func (o Outcome) String() string {
	switch o {
	case AlreadyExited:
		return "already_exited"
	case Terminated:
		return "terminated"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// SendSignal sends a signal to the given process. A process that has already
// finished yields ErrProcessNotRunning.
func SendSignal(proc *os.Process, sig os.Signal) error {
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, proc.Pid, err)
	}
	return nil
}

// Terminate sends SIGTERM to proc and waits up to grace for exited to close.
// If the process is still alive after the grace period it is killed.
// A non-positive grace uses DefaultGracePeriod.
func Terminate(proc *os.Process, exited <-chan struct{}, grace time.Duration) (Outcome, error) {
	if proc == nil {
		return AlreadyExited, ErrProcessNotRunning
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	select {
	case <-exited:
		return AlreadyExited, nil
	default:
	}

	if err := SendSignal(proc, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			select {
			case <-exited:
				return AlreadyExited, nil
			case <-time.After(killWait):
				return AlreadyExited, fmt.Errorf("process %d exited but its pipes stayed open: %w", proc.Pid, ErrShutdownTimeout)
			}
		}
		// Platforms without SIGTERM fall through to Kill.
		return kill(proc, exited)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
		return Terminated, nil
	case <-timer.C:
	}

	return kill(proc, exited)
}

func kill(proc *os.Process, exited <-chan struct{}) (Outcome, error) {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return Killed, fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	select {
	case <-exited:
		return Killed, nil
	case <-time.After(killWait):
		return Killed, fmt.Errorf("process %d did not die after SIGKILL: %w", proc.Pid, ErrShutdownTimeout)
	}
}
