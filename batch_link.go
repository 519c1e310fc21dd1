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

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/trace"
)

// batchLink points at a span outside the batch's own trace. The batch
// transaction links to the span ProcessSignals was called from, and each
// store call span links back to the batch transaction.
type batchLink struct {
	TraceID [16]byte
	SpanID  [8]byte
}

// apmLink returns the link as attached to the batch transaction.
func (l batchLink) apmLink() apm.SpanLink {
	return apm.SpanLink{Trace: l.TraceID, Span: l.SpanID}
}

// otelLink returns the link as attached to a store call span.
func (l batchLink) otelLink() trace.Link {
	return trace.Link{SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: l.TraceID,
		SpanID:  l.SpanID,
	})}
}

// linkFromAPM returns nil when tc carries no valid trace id.
func linkFromAPM(tc apm.TraceContext) *batchLink {
	if err := tc.Trace.Validate(); err != nil {
		return nil
	}
	return &batchLink{TraceID: tc.Trace, SpanID: tc.Span}
}

func linkFromOTel(sc trace.SpanContext) *batchLink {
	if !sc.HasTraceID() || !sc.HasSpanID() {
		return nil
	}
	return &batchLink{TraceID: sc.TraceID(), SpanID: sc.SpanID()}
}

// callerLink returns the span ProcessSignals was called from, preferring
// Elastic APM over OTel. It is nil for an untraced caller.
func callerLink(ctx context.Context) *batchLink {
	if span := apm.SpanFromContext(ctx); span != nil {
		return linkFromAPM(span.TraceContext())
	}
	if tx := apm.TransactionFromContext(ctx); tx != nil {
		return linkFromAPM(tx.TraceContext())
	}
	return linkFromOTel(trace.SpanContextFromContext(ctx))
}
