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

import "strings"

// DefaultTerminal is the output terminal signals are notified on.
const DefaultTerminal = "default"

// Signal is one unit of data flowing between blocks.
type Signal map[string]any

// Clone returns a shallow copy of the signal.
func (s Signal) Clone() Signal {
	out := make(Signal, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Notifier receives the signals a block emits.
type Notifier interface {
	NotifySignals(terminal string, signals []Signal)
}

// NotifierFunc is an adapter to allow the use of ordinary functions as
// a Notifier.
type NotifierFunc func(terminal string, signals []Signal)

// NotifySignals calls f(terminal, signals).
func (f NotifierFunc) NotifySignals(terminal string, signals []Signal) {
	f(terminal, signals)
}

// StripMetadataPrefix returns a copy of m with the leading underscore removed
// from metadata keys, so "_index" becomes "index". A key that is already
// present without the underscore takes precedence.
func StripMetadataPrefix(m map[string]any) Signal {
	out := make(Signal, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "_") {
			out[k[1:]] = v
		}
	}
	for k, v := range m {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}
