// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package expression

import (
	"strings"

	"github.com/ohler55/ojg/sen"
)

// ParseStructured reports whether v is, or can be parsed into, a structured
// object. Maps are returned as is. Strings are parsed as SEN objects, which
// covers JSON along with single-quoted and unquoted strings.
func ParseStructured(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		parsed, err := sen.Parse([]byte(s))
		if err != nil {
			return nil, false
		}
		m, ok := parsed.(map[string]any)
		return m, ok
	}
	return nil, false
}

// Truthy reports whether an evaluated value should be treated as present.
// nil, false, empty strings, zero numbers and empty collections are not.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	return true
}
