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
	"sync"
	"time"
)

// DefaultLogLines is how many stderr lines are kept per server.
const DefaultLogLines = 1000

// LogLine is one captured stderr line.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// RingBuffer is a fixed-size circular buffer of log lines.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []LogLine
	head  int
	count int
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultLogLines
	}
	return &RingBuffer{lines: make([]LogLine, capacity)}
}

// Add appends a line, evicting the oldest once full.
func (rb *RingBuffer) Add(line LogLine) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.lines)
	rb.lines[(rb.head+rb.count)%size] = line
	if rb.count < size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % size
	}
}

// Last returns up to n lines, oldest first. n <= 0 returns everything.
func (rb *RingBuffer) Last(n int) []LogLine {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	out := make([]LogLine, n)
	skip := rb.count - n
	for i := range out {
		out[i] = rb.lines[(rb.head+skip+i)%len(rb.lines)]
	}
	return out
}

// Since returns lines at or after t, oldest first.
func (rb *RingBuffer) Since(t time.Time) []LogLine {
	var out []LogLine
	for _, l := range rb.Last(0) {
		if !l.Timestamp.Before(t) {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of buffered lines.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// LogCapture keeps the recent stderr output of every stdio server, keyed by
// server name. Buffers survive reconnects so a crash's last words remain
// readable after the session is replaced.
type LogCapture struct {
	mu       sync.RWMutex
	buffers  map[string]*RingBuffer
	capacity int
}

// NewLogCapture creates a capture keeping capacity lines per server.
func NewLogCapture(capacity int) *LogCapture {
	if capacity <= 0 {
		capacity = DefaultLogLines
	}
	return &LogCapture{
		buffers:  make(map[string]*RingBuffer),
		capacity: capacity,
	}
}

func (lc *LogCapture) buffer(server string) *RingBuffer {
	lc.mu.RLock()
	buf, ok := lc.buffers[server]
	lc.mu.RUnlock()
	if ok {
		return buf
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if buf, ok := lc.buffers[server]; ok {
		return buf
	}
	buf = NewRingBuffer(lc.capacity)
	lc.buffers[server] = buf
	return buf
}

// Append records one stderr line for server.
func (lc *LogCapture) Append(server, text string) {
	lc.buffer(server).Add(LogLine{Timestamp: time.Now(), Text: text})
}

// Tail returns the last n lines for server. Unknown servers yield nil.
func (lc *LogCapture) Tail(server string, n int) []LogLine {
	lc.mu.RLock()
	buf, ok := lc.buffers[server]
	lc.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Last(n)
}

// Forget drops the buffer for a server that was removed from the config.
func (lc *LogCapture) Forget(server string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.buffers, server)
}
