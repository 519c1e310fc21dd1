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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reasons a signal is dropped, recorded as the "reason" attribute.
const (
	dropEvaluation = "evaluation"
	dropStore      = "store"
	dropResponse   = "response"
)

type metrics struct {
	requestDuration metric.Float64Histogram
	signalsReceived metric.Int64Counter
	signalsEmitted  metric.Int64Counter
	signalsDropped  metric.Int64Counter
	requests        metric.Int64Counter
	retries         metric.Int64Counter

	attrs metric.MeasurementOption
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-esblocks")
	ms := metrics{attrs: metric.WithAttributeSet(cfg.MetricAttributes)}
	histograms := []histogramMetric{
		{
			name:        "esblocks.request.latency",
			description: "The amount of time a store request took, in seconds.",
			unit:        "s",
			p:           &ms.requestDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "esblocks.signals.received",
			description: "The number of signals received for processing.",
			p:           &ms.signalsReceived,
		},
		{
			name:        "esblocks.signals.emitted",
			description: "The number of signals notified downstream.",
			p:           &ms.signalsEmitted,
		},
		{
			name:        "esblocks.signals.dropped",
			description: "The number of input signals that produced no output because of a failure. Dimensioned by reason.",
			p:           &ms.signalsDropped,
		},
		{
			name:        "esblocks.requests.count",
			description: "The number of store requests completed. Dimensioned by operation and outcome.",
			p:           &ms.requests,
		},
		{
			name:        "esblocks.requests.retried",
			description: "The number of store requests retried after a failure.",
			p:           &ms.retries,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}
	return ms, nil
}

func (ms metrics) dropped(ctx context.Context, n int, reason string) {
	ms.signalsDropped.Add(ctx, int64(n), ms.attrs,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

func (ms metrics) request(ctx context.Context, operation string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	opAttr := metric.WithAttributes(attribute.String("operation", operation))
	ms.requests.Add(ctx, 1, ms.attrs, opAttr,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	ms.requestDuration.Record(ctx, seconds, ms.attrs, opAttr)
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)

	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)

	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
