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

package esblocks

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/elastic/go-esblocks/expression"
)

// QueryArgs holds the optional search modifiers: size, from and sort.
type QueryArgs map[string]any

// QueryArgsFunc contributes to the query arguments of one signal. It must
// return a new QueryArgs extending args, leaving args untouched.
type QueryArgsFunc func(args QueryArgs, s Signal) (QueryArgs, error)

// SortDirection is the direction of a sort field.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// SortField is one entry of a sort order.
type SortField struct {
	Key       string
	Direction SortDirection
}

// BuildQueryArgs applies contributors in order, starting from empty args.
func BuildQueryArgs(s Signal, contributors ...QueryArgsFunc) (QueryArgs, error) {
	args := QueryArgs{}
	for _, f := range contributors {
		next, err := f(args, s)
		if err != nil {
			return nil, err
		}
		args = next
	}
	return args, nil
}

func (args QueryArgs) with(key string, value any) QueryArgs {
	out := make(QueryArgs, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out[key] = value
	return out
}

// Limit contributes "size" from the evaluated expression. An empty
// expression, or a value of zero, leaves size unset.
func Limit(e expression.Evaluator, expr string) QueryArgsFunc {
	return intArg(e, expr, "size")
}

// Offset contributes "from" from the evaluated expression. An empty
// expression, or a value of zero, leaves from unset.
func Offset(e expression.Evaluator, expr string) QueryArgsFunc {
	return intArg(e, expr, "from")
}

func intArg(e expression.Evaluator, expr, key string) QueryArgsFunc {
	return func(args QueryArgs, s Signal) (QueryArgs, error) {
		if expr == "" {
			return args, nil
		}
		v, err := e.Evaluate(expr, s)
		if err != nil {
			return nil, err
		}
		n, err := toInt(v)
		if err != nil {
			return nil, &expression.EvaluationError{Expression: expr, Err: fmt.Errorf("invalid %s: %w", key, err)}
		}
		if n == 0 {
			return args, nil
		}
		return args.with(key, n), nil
	}
}

// Sort contributes "sort". The sort order does not depend on the
// signal, so it is built once.
func Sort(fields []SortField) (QueryArgsFunc, error) {
	if len(fields) == 0 {
		return func(args QueryArgs, _ Signal) (QueryArgs, error) { return args, nil }, nil
	}
	sort := make([]any, 0, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return nil, fmt.Errorf("sort key must be set")
		}
		dir := f.Direction
		switch SortDirection(strings.ToLower(string(dir))) {
		case "", Ascending:
			dir = Ascending
		case Descending:
			dir = Descending
		default:
			return nil, fmt.Errorf("invalid sort direction %q for %q", f.Direction, f.Key)
		}
		sort = append(sort, map[string]any{f.Key: string(dir)})
	}
	return func(args QueryArgs, _ Signal) (QueryArgs, error) {
		return args.with("sort", sort), nil
	}, nil
}

func toInt(v any) (int, error) {
	var n int
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, err
		}
		n = int(i)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, err
		}
		n = i
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}
