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
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/fastjson"

	"github.com/elastic/go-esblocks"
	"github.com/elastic/go-esblocks/esblockstest"
)

func BenchmarkInsert(b *testing.B) {
	b.Run("single", func(b *testing.B) {
		benchmarkInsert(b, esblocks.InsertConfig{})
	})
	b.Run("single_compressed", func(b *testing.B) {
		benchmarkInsert(b, esblocks.InsertConfig{Config: esblocks.Config{CompressionLevel: 1}})
	})
	b.Run("bulk", func(b *testing.B) {
		benchmarkInsert(b, esblocks.InsertConfig{Bulk: true})
	})
	b.Run("bulk_compressed", func(b *testing.B) {
		benchmarkInsert(b, esblocks.InsertConfig{Config: esblocks.Config{CompressionLevel: 1}, Bulk: true})
	})
	b.Run("bulk_best_compression", func(b *testing.B) {
		benchmarkInsert(b, esblocks.InsertConfig{Config: esblocks.Config{CompressionLevel: 9}, Bulk: true})
	})
}

func benchmarkInsert(b *testing.B, cfg esblocks.InsertConfig) {
	srv := esblockstest.NewMockElasticsearchServer(b, func(w http.ResponseWriter, r *http.Request) {
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			r, err := gzip.NewReader(body)
			if err != nil {
				panic(err)
			}
			defer r.Close()
			body = r
		}
		if r.URL.Path != "/_bulk" {
			io.Copy(io.Discard, body)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"_id":"abc"}`))
			return
		}

		var jsonw fastjson.Writer
		jsonw.RawString(`{"items":[`)
		first := true
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			// Skip decoding the action to avoid inflating allocations
			// in the benchmark.
			if !scanner.Scan() {
				panic("expected source")
			}
			if first {
				first = false
			} else {
				jsonw.RawByte(',')
			}
			jsonw.RawString(`{"index":{"_id":"abc","status":201}}`)
		}
		require.NoError(b, scanner.Err())
		jsonw.RawString(`]}`)
		w.Write(jsonw.Bytes())
	})

	var emitted int
	cfg.Host = srv.Host
	cfg.Port = srv.Port
	cfg.Notifier = esblocks.NotifierFunc(func(_ string, signals []esblocks.Signal) {
		emitted += len(signals)
	})
	ins, err := esblocks.NewInsert(cfg)
	require.NoError(b, err)
	require.NoError(b, ins.Configure())
	require.NoError(b, ins.Start())
	defer ins.Stop()

	const batchSize = 100
	batch := make([]esblocks.Signal, batchSize)
	for i := range batch {
		batch[i] = esblocks.Signal{
			"@timestamp": "2009-11-10T23:00:00.000Z",
			"data.stream": map[string]any{"type": "logs", "dataset": "foo", "namespace": "testing"},
			"message":     "the quick brown fox jumps over the lazy dog",
		}
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ins.ProcessSignals(ctx, batch); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	if emitted != b.N*batchSize {
		b.Fatalf("expected %d signals, got %d", b.N*batchSize, emitted)
	}
}
