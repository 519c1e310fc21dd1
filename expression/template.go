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
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var errNoMatch = errors.New("no value found")

// Templates is the default Evaluator. Compiled templates are cached, so a
// Templates value should be reused across signals. It is safe for
// concurrent use.
type Templates struct {
	cache sync.Map // map[string]*template
}

// New returns a new template Evaluator.
func New() *Templates {
	return &Templates{}
}

// Evaluate implements Evaluator.
func (t *Templates) Evaluate(expression string, signal map[string]any) (any, error) {
	tmpl, err := t.compile(expression)
	if err != nil {
		return nil, &EvaluationError{Expression: expression, Err: err}
	}
	v, err := tmpl.execute(signal)
	if err != nil {
		return nil, &EvaluationError{Expression: expression, Err: err}
	}
	return v, nil
}

func (t *Templates) compile(expression string) (*template, error) {
	if v, ok := t.cache.Load(expression); ok {
		return v.(*template), nil
	}
	tmpl, err := parseTemplate(expression)
	if err != nil {
		return nil, err
	}
	t.cache.Store(expression, tmpl)
	return tmpl, nil
}

type segment struct {
	literal string
	path    jp.Expr // nil for literal text and constants
	value   any     // constant placeholder value
	dynamic bool
}

type template struct {
	segments []segment
}

func parseTemplate(s string) (*template, error) {
	var tmpl template
	for len(s) > 0 {
		start := strings.Index(s, openDelim)
		if start < 0 {
			tmpl.segments = append(tmpl.segments, segment{literal: s})
			break
		}
		if start > 0 {
			tmpl.segments = append(tmpl.segments, segment{literal: s[:start]})
		}
		rest := s[start+len(openDelim):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder at offset %d", start)
		}
		seg, err := parsePlaceholder(strings.TrimSpace(rest[:end]))
		if err != nil {
			return nil, err
		}
		tmpl.segments = append(tmpl.segments, seg)
		s = rest[end+len(closeDelim):]
	}
	return &tmpl, nil
}

func parsePlaceholder(src string) (segment, error) {
	if src == "" {
		return segment{}, errors.New("empty placeholder")
	}
	if strings.HasPrefix(src, "$") {
		// $field is shorthand for $.field.
		if len(src) > 1 && isIdentStart(src[1]) {
			src = "$." + src[1:]
		}
		x, err := jp.ParseString(src)
		if err != nil {
			return segment{}, fmt.Errorf("invalid path %q: %w", src, err)
		}
		return segment{path: x, dynamic: true}, nil
	}
	v, err := oj.ParseString(src)
	if err != nil {
		return segment{}, fmt.Errorf("invalid literal %q: %w", src, err)
	}
	return segment{value: v, dynamic: true}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (t *template) execute(signal map[string]any) (any, error) {
	if len(t.segments) == 1 && t.segments[0].dynamic {
		return t.segments[0].resolve(signal)
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.dynamic {
			b.WriteString(seg.literal)
			continue
		}
		v, err := seg.resolve(signal)
		if err != nil {
			return nil, err
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

func (seg segment) resolve(signal map[string]any) (any, error) {
	if seg.path == nil {
		return seg.value, nil
	}
	results := seg.path.Get(signal)
	if len(results) == 0 {
		return nil, fmt.Errorf("%s: %w", seg.path.String(), errNoMatch)
	}
	return results[0], nil
}

// Stringify renders an evaluated value as text. Strings are returned as is,
// nil as the empty string and everything else as JSON.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return oj.JSON(v)
	}
}
