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

// Package esblocks provides dataflow blocks that index signals into, and
// query signals out of, Elasticsearch.
//
// A block is configured once, started, and then fed batches of signals
// through ProcessSignals. Every signal is evaluated independently: its
// document type and target index are derived from expressions, a request
// is built and executed with a bounded retry, and the results are converted
// into output signals which are optionally enriched with the fields of the
// signal that triggered them. Failures are local to one signal; the rest of
// the batch is still processed.
//
// Insert indexes each signal as a document, and Find runs a search built
// from a per-signal condition.
package esblocks
