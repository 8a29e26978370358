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
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "retries disabled ignore backoff", modify: func(c *Config) { c.RetryAttempts = 0; c.RetryBackoff = 0 }},
		{name: "zero dial timeout", modify: func(c *Config) { c.DialTimeout = 0 }, wantErr: true},
		{name: "zero header timeout", modify: func(c *Config) { c.ResponseHeaderTimeout = 0 }, wantErr: true},
		{name: "negative retries", modify: func(c *Config) { c.RetryAttempts = -1 }, wantErr: true},
		{name: "zero backoff with retries", modify: func(c *Config) { c.RetryBackoff = 0 }, wantErr: true},
		{name: "max below base", modify: func(c *Config) { c.MaxBackoff = time.Millisecond }, wantErr: true},
		{name: "missing user agent", modify: func(c *Config) { c.UserAgent = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserAgent = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_HasNoOverallTimeout(t *testing.T) {
	client, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
}
