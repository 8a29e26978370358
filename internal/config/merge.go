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

package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// decodeTree parses a YAML document into generic maps. An empty document
// yields an empty map.
func decodeTree(data []byte) (map[string]any, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

// deepMerge overlays src onto dst. Nested maps merge key by key; any other
// value in src replaces the one in dst, lists included.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, sv := range src {
		sm, sIsMap := asMap(sv)
		dm, dIsMap := asMap(dst[k])
		if sIsMap && dIsMap {
			dst[k] = deepMerge(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandTree replaces ${VAR} and ${VAR:-default} in every string value.
// Unset variables without a default expand to the empty string.
func expandTree(v any, lookup func(string) (string, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = expandTree(val, lookup)
		}
		return t
	case map[any]any:
		m, _ := asMap(t)
		return expandTree(m, lookup)
	case []any:
		for i, val := range t {
			t[i] = expandTree(val, lookup)
		}
		return t
	case string:
		return expandString(t, lookup)
	default:
		return v
	}
}

func expandString(s string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if val, ok := lookup(m[1]); ok && val != "" {
			return val
		}
		return m[2]
	})
}
