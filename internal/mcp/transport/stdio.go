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

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/tombee/mcpagent/internal/lifecycle"
)

// maxLine bounds a single stderr line.
const maxLine = 1 << 20

// Stdio runs a tool server as a child process and exchanges newline-delimited
// JSON frames over its stdin and stdout.
type Stdio struct {
	cfg    Config
	logger *slog.Logger
	in     *inbox

	mu      sync.Mutex
	opened  bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	outputs []io.Closer
	exited  chan struct{}
	waitErr error

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStdio creates an unopened stdio transport.
func NewStdio(cfg Config) *Stdio {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{
		cfg:    cfg,
		logger: logger.With("transport", string(KindStdio)),
		in:     newInbox(),
	}
}

// Open starts the child process. The process outlives ctx.
func (t *Stdio) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.opened {
		return ErrAlreadyOpened
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.opened = true

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = append(os.Environ(), t.cfg.Env...)
	cmd.Dir = t.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.in.finish(err)
		return fmt.Errorf("failed to start %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.outputs = []io.Closer{stdout, stderr}
	t.exited = make(chan struct{})

	t.logger.Debug("server process started", "pid", cmd.Process.Pid, "command", t.cfg.Command)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		t.readLoop(stdout)
	}()
	go func() {
		defer readers.Done()
		t.stderrLoop(stderr)
	}()

	// Wait must not run until both pipes are drained.
	go func() {
		readers.Wait()
		err := cmd.Wait()
		t.mu.Lock()
		t.waitErr = err
		t.mu.Unlock()
		close(t.exited)
	}()

	return nil
}

func (t *Stdio) readLoop(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if frame := bytes.TrimSpace(line); len(frame) > 0 {
			if !t.in.push(bytes.Clone(frame)) {
				// Drain so the child never blocks on a full pipe.
				_, _ = io.Copy(io.Discard, r)
				t.in.finish(ErrClosed)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || t.in.isClosing() {
				t.in.finish(io.EOF)
			} else {
				t.in.finish(fmt.Errorf("read stdout: %w", err))
			}
			return
		}
	}
}

func (t *Stdio) stderrLoop(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		if t.cfg.Stderr != nil {
			t.cfg.Stderr(sc.Text())
		}
	}
	// Keep draining if a line overflowed the scanner.
	_, _ = io.Copy(io.Discard, stderr)
}

// Send writes frame followed by a newline.
func (t *Stdio) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	stdin, closed := t.stdin, t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if stdin == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (t *Stdio) Receive() iter.Seq[[]byte] {
	return t.in.seq()
}

// Err implements ErrReporter.
func (t *Stdio) Err() error {
	return t.in.Err()
}

// Pid returns the child's process id, or 0 before Open.
func (t *Stdio) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Exited is closed once the child has been reaped. Nil before Open.
func (t *Stdio) Exited() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Close closes stdin, then terminates the child with SIGTERM and, after the
// grace period, SIGKILL.
func (t *Stdio) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		cmd, stdin, outputs, exited := t.cmd, t.stdin, t.outputs, t.exited
		t.mu.Unlock()

		t.in.shut()

		if cmd == nil {
			t.in.finish(ErrClosed)
			return
		}

		_ = stdin.Close()

		outcome, err := lifecycle.Terminate(cmd.Process, exited, t.cfg.GracePeriod)
		t.logger.Debug("server process stopped",
			"pid", cmd.Process.Pid,
			"outcome", outcome.String())
		if err != nil {
			t.closeErr = fmt.Errorf("terminate %s: %w", t.cfg.Command, err)
		}
		if errors.Is(err, lifecycle.ErrShutdownTimeout) {
			// A descendant still holds the pipes; release the readers so
			// the child can be reaped.
			for _, c := range outputs {
				_ = c.Close()
			}
		}
	})
	return t.closeErr
}
