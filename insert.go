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
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/elastic/go-esblocks/esapi"
)

// typeField holds the body field the document type is written to when
// InsertConfig.IncludeType is set.
const typeField = "_type"

// Insert indexes every signal it receives as a document, emitting a signal
// carrying the generated document id for each successful insert.
type Insert struct {
	*Block
	cfg InsertConfig
}

// NewInsert returns a new, unconfigured Insert block.
func NewInsert(cfg InsertConfig) (*Insert, error) {
	ins := &Insert{cfg: cfg}
	b, err := newBlock(cfg.Config, ins)
	if err != nil {
		return nil, err
	}
	ins.Block = b
	return ins, nil
}

func (i *Insert) name() string { return "insert" }

func (i *Insert) buildBody(r *request) error {
	body := make(map[string]any, len(r.signal)+1)
	for k, v := range r.signal {
		body[k] = v
	}
	if i.cfg.IncludeType {
		body[typeField] = r.docType
	}
	r.body = body
	return nil
}

func (i *Insert) execute(ctx context.Context, client esapi.Transport, r request) ([]Signal, error) {
	body, header, err := encodeBody(r.body, i.Block.config.CompressionLevel)
	if err != nil {
		return nil, err
	}
	res, err := esapi.IndexRequest{
		Index:        r.index,
		DocumentType: r.docType,
		Body:         body,
		Header:       header,
		Pipeline:     i.cfg.Pipeline,
		Refresh:      i.cfg.Refresh,
		Timeout:      i.Block.config.RequestTimeout,
	}.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, statusError("index failed", res.StatusCode, res.String())
	}
	result, err := decodeResponse(res.Body)
	if err != nil {
		return nil, err
	}
	id, ok := result["_id"]
	if !ok {
		return nil, fmt.Errorf("%w: index response has no _id", errUnexpectedResponse)
	}
	return []Signal{{"id": id}}, nil
}

func (i *Insert) batchEnabled() bool { return i.cfg.Bulk }

func (i *Insert) executeBatch(ctx context.Context, client esapi.Transport, reqs []request) ([]batchResult, error) {
	indexer, err := NewBulkIndexer(BulkIndexerConfig{
		Client:           client,
		CompressionLevel: i.Block.config.CompressionLevel,
		Pipeline:         i.cfg.Pipeline,
		Refresh:          i.cfg.Refresh,
	})
	if err != nil {
		return nil, err
	}
	results := make([]batchResult, len(reqs))
	// positions maps bulk item positions back to requests, since requests
	// that fail to encode are never sent.
	positions := make([]int, 0, len(reqs))
	for n, r := range reqs {
		doc, err := jsonAPI.Marshal(r.body)
		if err == nil {
			err = indexer.Add(BulkIndexerItem{
				Index:        r.index,
				DocumentType: r.docType,
				Body:         bytes.NewReader(doc),
			})
		}
		if err != nil {
			results[n].err = fmt.Errorf("failed to encode document: %w", err)
			continue
		}
		positions = append(positions, n)
	}

	items := indexer.Items()
	stat, err := indexer.Flush(ctx)
	if err != nil {
		return nil, err
	}
	i.Block.config.Logger.Debug("bulk request flushed",
		zap.Int("items", items),
		zap.Int64("indexed", stat.Indexed),
		zap.Int("failed", len(stat.FailedDocs)),
		zap.Int("bytes", indexer.BytesFlushed()),
	)
	if len(stat.Items) != items {
		return nil, fmt.Errorf("%w: expected %d bulk items, got %d",
			errUnexpectedResponse, items, len(stat.Items),
		)
	}
	for _, item := range stat.Items {
		n := positions[item.Position]
		switch {
		case item.Failed():
			results[n].err = fmt.Errorf("failed to index document in '%s' (%s): %s",
				item.Index, item.Error.Type, item.Error.Reason,
			)
		case item.DocumentID == "":
			results[n].err = fmt.Errorf("%w: bulk item has no _id", errUnexpectedResponse)
		default:
			results[n].signals = []Signal{{"id": item.DocumentID}}
		}
	}
	return results, nil
}
