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

package esblocks_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elastic/go-esblocks"
	"github.com/elastic/go-esblocks/esblockstest"
)

var testHits = []map[string]any{
	{
		"_index":  "index_name",
		"_type":   "_doc",
		"_id":     "1",
		"_score":  1.0,
		"_source": map[string]any{"name": "first"},
	},
	{
		"_index":  "index_name",
		"_type":   "_doc",
		"_id":     "2",
		"_score":  0.5,
		"_source": map[string]any{"name": "second"},
	},
}

func startFind(t testing.TB, cfg esblocks.FindConfig) *esblocks.Find {
	find, err := esblocks.NewFind(cfg)
	require.NoError(t, err)
	require.NoError(t, find.Configure())
	require.NoError(t, find.Start())
	t.Cleanup(func() { find.Stop() })
	return find
}

func respondHits(hits ...map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		esblockstest.WriteSearchResponse(w, hits...)
	}
}

func TestFindDefaults(t *testing.T) {
	handler, captured := captureHandler(t, respondHits(testHits[0]))
	srv := esblockstest.NewMockElasticsearchServer(t, handler)
	rec := &recorder{}
	find := startFind(t, esblocks.FindConfig{Config: testConfig(srv, rec)})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{{"field1": "1"}}))
	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/nio/_search", reqs[0].path)
	assert.Equal(t, map[string]any{"query": map[string]any{"match_all": map[string]any{}}}, reqs[0].body)
	assert.Equal(t, []esblocks.Signal{{
		"index":  "index_name",
		"type":   "_doc",
		"id":     "1",
		"score":  1.0,
		"source": map[string]any{"name": "first"},
	}}, rec.notified())
}

func TestFindDocTypeInPath(t *testing.T) {
	handler, captured := captureHandler(t, respondHits())
	srv := esblockstest.NewMockElasticsearchServer(t, handler)
	cfg := testConfig(srv, &recorder{})
	cfg.Index = "index_name"
	cfg.DocType = "doc_type_name"
	find := startFind(t, esblocks.FindConfig{Config: cfg})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{{}}))
	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/index_name/doc_type_name/_search", reqs[0].path)
}

func TestFindCondition(t *testing.T) {
	for name, tc := range map[string]struct {
		condition string
		signal    esblocks.Signal
		expected  any
	}{
		"json string": {
			condition: `{"match": {"name": "first"}}`,
			expected:  map[string]any{"match": map[string]any{"name": "first"}},
		},
		"relaxed literal": {
			condition: `{'match_all': {}}`,
			expected:  map[string]any{"match_all": map[string]any{}},
		},
		"from signal": {
			condition: "{{ $query }}",
			signal:    esblocks.Signal{"query": map[string]any{"term": map[string]any{"id": "1"}}},
			expected:  map[string]any{"term": map[string]any{"id": "1"}},
		},
		"json string from signal": {
			condition: "{{ $query }}",
			signal:    esblocks.Signal{"query": `{"match_all": {}}`},
			expected:  map[string]any{"match_all": map[string]any{}},
		},
		"not an object": {
			condition: "{{ $query }}",
			signal:    esblocks.Signal{"query": "name:first"},
			expected:  "name:first",
		},
	} {
		t.Run(name, func(t *testing.T) {
			handler, captured := captureHandler(t, respondHits())
			srv := esblockstest.NewMockElasticsearchServer(t, handler)
			find := startFind(t, esblocks.FindConfig{
				Config:    testConfig(srv, &recorder{}),
				Condition: tc.condition,
			})
			require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{tc.signal}))
			reqs := captured()
			require.Len(t, reqs, 1)
			assert.Equal(t, tc.expected, reqs[0].body["query"])
		})
	}
}

func TestFindStrictCondition(t *testing.T) {
	handler, captured := captureHandler(t, respondHits())
	srv := esblockstest.NewMockElasticsearchServer(t, handler)
	core, observed := observer.New(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	cfg := testConfig(srv, &recorder{})
	cfg.Logger = zap.New(core)
	find := startFind(t, esblocks.FindConfig{
		Config:          cfg,
		Condition:       "{{ $query }}",
		StrictCondition: true,
	})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{
		{"query": "name:first"},
		{"query": map[string]any{"match_all": map[string]any{}}},
	}))
	assert.Len(t, captured(), 1)
	assert.Len(t, observed.FilterMessage("failed to build request, dropping signal").All(), 1)
}

func TestFindQueryArgs(t *testing.T) {
	for name, tc := range map[string]struct {
		cfg      esblocks.FindConfig
		signal   esblocks.Signal
		expected map[string]any
	}{
		"size and offset": {
			cfg:      esblocks.FindConfig{Size: "10", Offset: "5"},
			expected: map[string]any{"size": 10.0, "from": 5.0},
		},
		"size zero": {
			cfg:      esblocks.FindConfig{Size: "0", Offset: "0"},
			expected: map[string]any{},
		},
		"size from signal": {
			cfg:      esblocks.FindConfig{Size: "{{ $limit }}"},
			signal:   esblocks.Signal{"limit": 3},
			expected: map[string]any{"size": 3.0},
		},
		"sort": {
			cfg: esblocks.FindConfig{Sort: []esblocks.SortField{
				{Key: "sort_key", Direction: esblocks.Descending},
			}},
			expected: map[string]any{"sort": []any{map[string]any{"sort_key": "desc"}}},
		},
		"sort default direction": {
			cfg: esblocks.FindConfig{Sort: []esblocks.SortField{
				{Key: "a"}, {Key: "b", Direction: "DESC"},
			}},
			expected: map[string]any{"sort": []any{
				map[string]any{"a": "asc"},
				map[string]any{"b": "desc"},
			}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			handler, captured := captureHandler(t, respondHits())
			srv := esblockstest.NewMockElasticsearchServer(t, handler)
			cfg := tc.cfg
			cfg.Config = testConfig(srv, &recorder{})
			find := startFind(t, cfg)

			require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{tc.signal}))
			reqs := captured()
			require.Len(t, reqs, 1)
			body := reqs[0].body
			delete(body, "query")
			assert.Equal(t, tc.expected, body)
		})
	}
}

func TestFindInvalidSize(t *testing.T) {
	handler, captured := captureHandler(t, respondHits())
	srv := esblockstest.NewMockElasticsearchServer(t, handler)
	rec := &recorder{}
	find := startFind(t, esblocks.FindConfig{Config: testConfig(srv, rec), Size: "{{ $limit }}"})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{
		{"limit": "lots"},
		{"limit": -1},
		{"limit": 2},
	}))
	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, 2.0, reqs[0].body["size"])
}

func TestFindPrettyResults(t *testing.T) {
	srv := esblockstest.NewMockElasticsearchServer(t, respondHits(testHits...))
	rec := &recorder{}
	find := startFind(t, esblocks.FindConfig{Config: testConfig(srv, rec), PrettyResults: true})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{{}}))
	assert.Equal(t, []esblocks.Signal{{"name": "first"}, {"name": "second"}}, rec.notified())
}

func TestFindEnrich(t *testing.T) {
	srv := esblockstest.NewMockElasticsearchServer(t, respondHits(testHits...))
	rec := &recorder{}
	cfg := testConfig(srv, rec)
	cfg.Enrich = esblocks.EnrichConfig{Mode: esblocks.EnrichField, Field: "hit"}
	find := startFind(t, esblocks.FindConfig{Config: cfg, PrettyResults: true})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{{"q": 1}, {"q": 2}}))
	assert.Equal(t, []esblocks.Signal{
		{"q": 1, "hit": map[string]any{"name": "first"}},
		{"q": 1, "hit": map[string]any{"name": "second"}},
		{"q": 2, "hit": map[string]any{"name": "first"}},
		{"q": 2, "hit": map[string]any{"name": "second"}},
	}, rec.notified())
	assert.Equal(t, 1, rec.calls)
}

func TestFindUnexpectedResponse(t *testing.T) {
	var requests int
	srv := esblockstest.NewMockElasticsearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"took": 1, "timed_out": false}`))
	})
	core, observed := observer.New(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	rec := &recorder{}
	cfg := testConfig(srv, rec)
	cfg.Logger = zap.New(core)
	find := startFind(t, esblocks.FindConfig{Config: cfg})

	require.NoError(t, find.ProcessSignals(context.Background(), []esblocks.Signal{{}}))
	assert.Equal(t, 1, requests)
	assert.Equal(t, 0, rec.calls)
	entries := observed.FilterMessage("find failed, dropping signal").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "response", entries[0].ContextMap()["reason"])
}
