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

package log

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

// Unique id sources for a run.
const (
	UniqueIDTimestamp = "timestamp"
	UniqueIDSessionID = "session_id"
)

// DefaultTimestampFormat is the strftime layout for timestamp run ids.
const DefaultTimestampFormat = "%Y%m%d_%H%M%S"

// PathSettings controls how a run's unique id is derived.
type PathSettings struct {
	// PathPattern is the file sink path; may contain "{unique_id}".
	PathPattern string

	// UniqueID is "timestamp" (default) or "session_id".
	UniqueID string

	// TimestampFormat is a strftime layout. Default: DefaultTimestampFormat
	TimestampFormat string
}

// NewRunID derives the run-scoped unique id. For session ids an empty
// sessionID is replaced by a fresh UUID.
func NewRunID(settings PathSettings, sessionID string, now time.Time) (string, error) {
	switch settings.UniqueID {
	case "", UniqueIDTimestamp:
		layout := settings.TimestampFormat
		if layout == "" {
			layout = DefaultTimestampFormat
		}
		return strftime.Format(layout, now), nil
	case UniqueIDSessionID:
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		return sessionID, nil
	default:
		return "", fmt.Errorf("unknown unique_id source %q", settings.UniqueID)
	}
}
