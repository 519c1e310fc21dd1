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

// Package expression evaluates the per-signal expressions used to derive
// index names, document types, queries and query modifiers.
//
// The default Evaluator understands templates in which literal text is mixed
// with {{ ... }} placeholders. A placeholder holds either a JSONPath
// expression rooted at the signal ($.field, or the $field shorthand) or a
// JSON literal.
package expression

import (
	"fmt"
)

// Evaluator evaluates an expression against a signal.
//
// Implementations return an *EvaluationError when the expression cannot be
// evaluated for the given signal.
type Evaluator interface {
	Evaluate(expression string, signal map[string]any) (any, error)
}

// EvaluatorFunc is an adapter to allow the use of ordinary functions as
// an Evaluator.
type EvaluatorFunc func(expression string, signal map[string]any) (any, error)

// Evaluate calls f(expression, signal).
func (f EvaluatorFunc) Evaluate(expression string, signal map[string]any) (any, error) {
	return f(expression, signal)
}

// EvaluationError reports a failure to evaluate an expression.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
