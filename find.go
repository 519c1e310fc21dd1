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
	"context"
	"fmt"

	"github.com/elastic/go-esblocks/esapi"
	"github.com/elastic/go-esblocks/expression"
)

// Find runs a search for every signal it receives and emits one signal per
// hit.
type Find struct {
	*Block
	cfg          FindConfig
	contributors []QueryArgsFunc
}

// NewFind returns a new, unconfigured Find block.
func NewFind(cfg FindConfig) (*Find, error) {
	if cfg.Condition == "" {
		cfg.Condition = defaultCondition
	}
	f := &Find{cfg: cfg}
	b, err := newBlock(cfg.Config, f)
	if err != nil {
		return nil, err
	}
	f.Block = b

	sort, err := Sort(cfg.Sort)
	if err != nil {
		return nil, err
	}
	evaluator := b.config.Evaluator
	f.contributors = []QueryArgsFunc{
		Limit(evaluator, cfg.Size),
		Offset(evaluator, cfg.Offset),
		sort,
	}
	return f, nil
}

func (f *Find) name() string { return "find" }

func (f *Find) buildBody(r *request) error {
	v, err := f.Block.config.Evaluator.Evaluate(f.cfg.Condition, r.signal)
	if err != nil {
		return fmt.Errorf("condition failed to evaluate: %w", err)
	}
	query, ok := expression.ParseStructured(v)
	var condition any = query
	if !ok {
		if f.cfg.StrictCondition {
			return fmt.Errorf("%w: condition evaluated to %q, not an object",
				errInvalidValue, expression.Stringify(v),
			)
		}
		condition = v
	}
	args, err := BuildQueryArgs(r.signal, f.contributors...)
	if err != nil {
		return err
	}
	body := make(map[string]any, len(args)+1)
	for k, v := range args {
		body[k] = v
	}
	body["query"] = condition
	r.body = body
	return nil
}

func (f *Find) execute(ctx context.Context, client esapi.Transport, r request) ([]Signal, error) {
	body, header, err := encodeBody(r.body, f.Block.config.CompressionLevel)
	if err != nil {
		return nil, err
	}
	res, err := esapi.SearchRequest{
		Index:        r.index,
		DocumentType: r.docType,
		Body:         body,
		Header:       header,
		Timeout:      f.Block.config.RequestTimeout,
	}.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, statusError("search failed", res.StatusCode, res.String())
	}
	result, err := decodeResponse(res.Body)
	if err != nil {
		return nil, err
	}
	hits, ok := searchHits(result)
	if !ok {
		return nil, fmt.Errorf("%w: search response has no hits", errUnexpectedResponse)
	}
	out := make([]Signal, 0, len(hits))
	for _, h := range hits {
		hit, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if !f.cfg.PrettyResults {
			out = append(out, StripMetadataPrefix(hit))
			continue
		}
		if source, ok := hit["_source"].(map[string]any); ok {
			out = append(out, Signal(source))
		}
	}
	return out, nil
}

// searchHits returns the hits.hits array of a search response.
func searchHits(result map[string]any) ([]any, bool) {
	outer, ok := result["hits"].(map[string]any)
	if !ok {
		return nil, false
	}
	hits, ok := outer["hits"].([]any)
	return hits, ok
}
