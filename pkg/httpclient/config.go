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

package httpclient

import (
	"fmt"
	"log/slog"
	"time"
)

// Config configures New.
type Config struct {
	// DialTimeout bounds TCP connect. Default: 10s
	DialTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// RetryAttempts is the number of retries after the first try for
	// idempotent requests. Default: 2. Must be >= 0.
	RetryAttempts int

	// RetryBackoff is the initial backoff delay. Default: 200ms.
	RetryBackoff time.Duration

	// MaxBackoff caps the backoff delay. Default: 5s.
	MaxBackoff time.Duration

	// UserAgent is sent unless the request sets its own. Required.
	UserAgent string

	// Logger receives request logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by remote transports.
func DefaultConfig() Config {
	return Config{
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RetryAttempts:         2,
		RetryBackoff:          200 * time.Millisecond,
		MaxBackoff:            5 * time.Second,
		UserAgent:             "mcpagent",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be > 0, got %v", c.DialTimeout)
	}
	if c.ResponseHeaderTimeout <= 0 {
		return fmt.Errorf("response header timeout must be > 0, got %v", c.ResponseHeaderTimeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry backoff must be > 0 when retries are enabled, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max backoff (%v) must be >= retry backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	return nil
}
