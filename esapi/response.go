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
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Response represents the API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// IsError returns true when the response status indicates failure.
func (r *Response) IsError() bool {
	return r.StatusCode > 299
}

// String returns the response as a string.
//
// The intended usage is for testing or debugging only. The body is drained
// and replaced so it can still be read afterwards.
func (r *Response) String() string {
	var out bytes.Buffer
	fmt.Fprintf(&out, "[%d %s]", r.StatusCode, http.StatusText(r.StatusCode))
	if r.Body != nil {
		var b bytes.Buffer
		if _, err := io.Copy(&b, r.Body); err != nil {
			fmt.Fprintf(&out, " <error reading response body: %v>", err)
			return out.String()
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(b.Bytes()))
		if b.Len() > 0 {
			out.WriteByte(' ')
			out.Write(b.Bytes())
		}
	}
	return out.String()
}
