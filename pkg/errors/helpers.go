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

package errors

import (
	"errors"
	"fmt"
)

// Wrap adds context to err. It returns nil for a nil err.
//
//	if err != nil {
//	    return errors.Wrap(err, "read arguments file")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Classify reports the category and retryability of the first
// ErrorClassifier in the chain. Unclassified errors are "unknown" and not
// retryable.
func Classify(err error) (errType string, retryable bool) {
	if err == nil {
		return "", false
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorType(), classifier.IsRetryable()
	}
	return "unknown", false
}

// Suggestion returns the hint of the outermost UserVisibleError in the chain.
// A hidden error stops the search so internal causes never leak a hint.
func Suggestion(err error) string {
	var visible UserVisibleError
	if !errors.As(err, &visible) || !visible.IsUserVisible() {
		return ""
	}
	return visible.Suggestion()
}
