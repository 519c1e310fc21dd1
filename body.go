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
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeBody encodes v as JSON, gzip compressing it when level is not
// gzip.NoCompression. The returned header carries the content encoding.
func encodeBody(v any, level int) (io.Reader, http.Header, error) {
	raw, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	header := make(http.Header)
	if level == gzip.NoCompression {
		return bytes.NewReader(raw), header, nil
	}
	var buf bytes.Buffer
	gzipw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, nil, err
	}
	if _, err := gzipw.Write(raw); err != nil {
		return nil, nil, fmt.Errorf("failed to compress request body: %w", err)
	}
	if err := gzipw.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed closing the gzip writer: %w", err)
	}
	header.Set("Content-Encoding", "gzip")
	return &buf, header, nil
}

// decodeResponse decodes a JSON object response body.
func decodeResponse(r io.Reader) (map[string]any, error) {
	var out map[string]any
	if err := jsonAPI.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return out, nil
}
