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

// Package esblockstest provides a mock Elasticsearch server for testing
// blocks without a running cluster.
package esblockstest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// TimestampFormat holds the time format for formatting timestamps according to
// Elasticsearch's strict_date_optional_time date format, which includes a fractional
// seconds component.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Server is a mock Elasticsearch node.
type Server struct {
	*httptest.Server

	// Host and Port locate the server.
	Host string
	Port int
}

// NewMockElasticsearchServer starts an httptest.Server which serves every
// request with handler, after setting the product header expected by
// go-elasticsearch. HEAD / is answered directly so pings succeed.
// The server will be closed via t.Cleanup.
func NewMockElasticsearchServer(t testing.TB, handler http.HandlerFunc) *Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return &Server{Server: srv, Host: host, Port: p}
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends
// every request to handler.
func NewMockElasticsearchClient(t testing.TB, handler http.HandlerFunc) *elasticsearch.Client {
	srv := NewMockElasticsearchServer(t, handler)
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
		Transport:    apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	require.NoError(t, err)
	return client
}

// DecodeBody decodes a JSON request body, transparently handling gzip
// content encoding.
func DecodeBody(r *http.Request) (map[string]any, error) {
	body, err := requestBody(r)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func requestBody(r *http.Request) (io.ReadCloser, error) {
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(r.Body)
	}
	return r.Body, nil
}

// WriteIndexResponse writes the response of a successful index request.
func WriteIndexResponse(w http.ResponseWriter, index, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"_index":  index,
		"_id":     id,
		"result":  "created",
		"_shards": map[string]any{"total": 1, "successful": 1, "failed": 0},
	})
}

// WriteSearchResponse writes the response of a search returning hits.
func WriteSearchResponse(w http.ResponseWriter, hits ...map[string]any) {
	if hits == nil {
		hits = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total": map[string]any{"value": len(hits), "relation": "eq"},
			"hits":  hits,
		},
	})
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// actions, documents and a response body acknowledging every document with
// a generated id.
func DecodeBulkRequest(r *http.Request) ([]map[string]any, [][]byte, esutil.BulkIndexerResponse) {
	body, err := requestBody(r)
	if err != nil {
		panic(err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	var actions []map[string]any
	var indexed [][]byte
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		action := make(map[string]any)
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var actionType string
		for actionType = range action {
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		doc := append([]byte{}, scanner.Bytes()...)
		if !json.Valid(doc) {
			panic(fmt.Errorf("invalid JSON: %s", doc))
		}
		actions = append(actions, action)
		indexed = append(indexed, doc)

		meta, _ := action[actionType].(map[string]any)
		index, _ := meta["_index"].(string)
		item := esutil.BulkIndexerResponseItem{
			Index:      index,
			DocumentID: fmt.Sprintf("id-%d", len(indexed)),
			Status:     http.StatusCreated,
		}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{actionType: item})
	}
	return actions, indexed, result
}
