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

package esapi

import (
	"context"
	"io"
	"net/http"
	"time"
)

// IndexRequest configures the Index API request. The document id is
// generated by the server.
type IndexRequest struct {
	Index        string
	DocumentType string
	Body         io.Reader

	Pipeline string
	Refresh  string
	Timeout  time.Duration

	Header http.Header
}

// Do executes the request and returns response or error.
func (r IndexRequest) Do(ctx context.Context, transport Transport) (*Response, error) {
	docType := r.DocumentType
	if docType == "" {
		docType = DefaultDocumentType
	}
	params := make(map[string]string)
	if r.Pipeline != "" {
		params["pipeline"] = r.Pipeline
	}
	if r.Refresh != "" {
		params["refresh"] = r.Refresh
	}
	if r.Timeout != 0 {
		params["timeout"] = formatDuration(r.Timeout)
	}
	req, err := newRequest(ctx, http.MethodPost, buildPath(r.Index, docType), r.Body, params, r.Header)
	if err != nil {
		return nil, err
	}
	return perform(transport, req)
}
