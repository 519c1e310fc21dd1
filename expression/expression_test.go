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

package expression_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-esblocks/expression"
)

func TestTemplatesEvaluate(t *testing.T) {
	signal := map[string]any{
		"val":   "123",
		"count": int64(10),
		"nested": map[string]any{
			"name": "logs",
		},
	}
	for name, tc := range map[string]struct {
		expr     string
		expected any
	}{
		"literal":            {expr: "index_name", expected: "index_name"},
		"shorthand path":     {expr: "{{ $val }}", expected: "123"},
		"jsonpath":           {expr: "{{ $.nested.name }}", expected: "logs"},
		"raw value":          {expr: "{{$count}}", expected: int64(10)},
		"raw map":            {expr: "{{ $nested }}", expected: map[string]any{"name": "logs"}},
		"json literal":       {expr: "{{ 0 }}", expected: int64(0)},
		"interpolated":       {expr: "logs-{{ $.nested.name }}-{{ $count }}", expected: "logs-logs-10"},
		"structured literal": {expr: `{"expr": "{{ $val }}"}`, expected: `{"expr": "123"}`},
		"no placeholders":    {expr: `{"match_all": {}}`, expected: `{"match_all": {}}`},
	} {
		t.Run(name, func(t *testing.T) {
			v, err := expression.New().Evaluate(tc.expr, signal)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestTemplatesEvaluateErrors(t *testing.T) {
	e := expression.New()
	for name, expr := range map[string]string{
		"missing field":   "{{ $missing }}",
		"unterminated":    "{{ $val",
		"empty":           "{{ }}",
		"invalid literal": "{{ 1 + 'str' }}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Evaluate(expr, map[string]any{"val": "1"})
			require.Error(t, err)
			var evalErr *expression.EvaluationError
			require.True(t, errors.As(err, &evalErr))
			assert.Equal(t, expr, evalErr.Expression)
		})
	}
}

func TestTemplatesCache(t *testing.T) {
	e := expression.New()
	for _, val := range []string{"a", "b"} {
		v, err := e.Evaluate("{{ $val }}", map[string]any{"val": val})
		require.NoError(t, err)
		assert.Equal(t, val, v)
	}
}

func TestParseStructured(t *testing.T) {
	m, ok := expression.ParseStructured(`{"expr": "123"}`)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"expr": "123"}, m)

	m, ok = expression.ParseStructured(map[string]any{"match_all": map[string]any{}})
	require.True(t, ok)
	assert.Contains(t, m, "match_all")

	// Relaxed literals with single quotes are accepted too.
	m, ok = expression.ParseStructured(`{'match_all': {}}`)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"match_all": map[string]any{}}, m)

	m, ok = expression.ParseStructured(` {'match': {'name': 'first', 'boost': 2}} `)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"match": map[string]any{"name": "first", "boost": int64(2)}}, m)

	for _, v := range []any{"not a dict", `["a"]`, `{'unterminated`, int64(1), nil} {
		_, ok := expression.ParseStructured(v)
		assert.False(t, ok, "%v", v)
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{nil, "", false, 0, int64(0), 0.0, map[string]any{}, []any{}} {
		assert.False(t, expression.Truthy(v), "%#v", v)
	}
	for _, v := range []any{"x", true, 1, int64(2), 0.5, map[string]any{"a": 1}, []any{1}} {
		assert.True(t, expression.Truthy(v), "%#v", v)
	}
}

func TestEvaluatorFunc(t *testing.T) {
	var e expression.Evaluator = expression.EvaluatorFunc(func(expr string, _ map[string]any) (any, error) {
		return expr + "!", nil
	})
	v, err := e.Evaluate("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x!", v)
}
