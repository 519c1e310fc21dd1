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

import "errors"

// EnrichMode selects how a result is combined with its input signal.
type EnrichMode int

const (
	// EnrichNone emits the result on its own.
	EnrichNone EnrichMode = iota
	// EnrichMerge merges the result fields into a copy of the input
	// signal. Result fields overwrite conflicting input fields.
	EnrichMerge
	// EnrichField nests the result under EnrichConfig.Field in a copy of
	// the input signal.
	EnrichField
)

// EnrichConfig holds the enrichment configuration.
type EnrichConfig struct {
	Mode  EnrichMode
	Field string
}

func (c EnrichConfig) validate() error {
	switch c.Mode {
	case EnrichNone, EnrichMerge:
		return nil
	case EnrichField:
		if c.Field == "" {
			return errors.New("enrich field name must be set")
		}
		return nil
	}
	return errors.New("unknown enrich mode")
}

// Enrich combines result with the input signal that produced it. Neither
// argument is modified.
func Enrich(cfg EnrichConfig, input, result Signal) Signal {
	switch cfg.Mode {
	case EnrichMerge:
		out := input.Clone()
		for k, v := range result {
			out[k] = v
		}
		return out
	case EnrichField:
		out := input.Clone()
		out[cfg.Field] = map[string]any(result.Clone())
		return out
	}
	return result
}
