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
	"fmt"
	"net/http"
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elastic/go-esblocks/expression"
)

const (
	defaultHost      = "127.0.0.1"
	defaultPort      = 9200
	defaultIndex     = "nio"
	defaultDocType   = "_doc"
	defaultCondition = `{"match_all": {}}`
)

// Config holds the configuration shared by all blocks.
type Config struct {
	// Host holds the Elasticsearch host name.
	//
	// If Host is empty, 127.0.0.1 will be used.
	Host string

	// Port holds the Elasticsearch port.
	//
	// If Port is zero, the default of 9200 will be used.
	Port int

	// Auth holds the credentials and scheme used to build the host URL.
	Auth AuthConfig

	// Index holds the expression evaluated per signal to derive the
	// target index. A signal for which it evaluates to an empty value
	// is dropped.
	//
	// If Index is empty, "nio" will be used.
	Index string

	// DocType holds the expression evaluated per signal to derive the
	// document type.
	//
	// If DocType is empty, "_doc" will be used.
	DocType string

	// ClientOptions holds free-form client options merged on top of the
	// default {"hosts": [url]}. It may be a map[string]any or a JSON
	// object encoded as a string. Invalid options are logged and ignored.
	ClientOptions any

	// Transport holds an optional http.RoundTripper for the client.
	// It is always wrapped for APM instrumentation.
	Transport http.RoundTripper

	// Enrich configures how results are combined with the signal that
	// produced them.
	Enrich EnrichConfig

	// Retry holds the retry policy for store calls. Zero fields take
	// their defaults.
	Retry RetryPolicy

	// RequestTimeout holds the timeout for a single store call.
	//
	// If RequestTimeout is zero, no timeout will be used.
	RequestTimeout time.Duration

	// CompressionLevel holds the gzip compression level for request
	// bodies, from 0 (gzip.NoCompression) to 9 (gzip.BestCompression).
	// The special value -1 (gzip.DefaultCompression) selects the default
	// compression level.
	CompressionLevel int

	// Evaluator evaluates the configured expressions against signals.
	//
	// If Evaluator is nil, expression.New() will be used.
	Evaluator expression.Evaluator

	// Notifier receives the output signals of each batch.
	Notifier Notifier

	// Logger holds an optional Logger.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing batches.
	// Each ProcessSignals call is traced as a transaction.
	//
	// If Tracer is nil, batches will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider used to
	// record a span for each store execution.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record block metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

// AuthConfig holds the credentials used to reach Elasticsearch.
type AuthConfig struct {
	Username string
	Password string
	UseHTTPS bool
}

// InsertConfig holds configuration for Insert.
type InsertConfig struct {
	Config

	// IncludeType adds the document type to the indexed body under "_type".
	IncludeType bool

	// Bulk indexes each batch with a single _bulk request instead of one
	// index request per signal.
	Bulk bool

	// Refresh holds the refresh parameter sent with index requests.
	Refresh string

	// Pipeline holds the ingest pipeline ID documents are indexed through.
	//
	// If Pipeline is empty, no ingest pipeline is specified.
	Pipeline string
}

// FindConfig holds configuration for Find.
type FindConfig struct {
	Config

	// Condition holds the expression evaluated per signal to derive the
	// query. It must evaluate to an object, or to a string holding a JSON
	// object.
	//
	// If Condition is empty, {"match_all": {}} will be used.
	Condition string

	// StrictCondition fails the signal when Condition does not evaluate to
	// an object. Otherwise the value is sent as is.
	StrictCondition bool

	// Size holds an optional expression for the maximum number of hits.
	// A value of zero, or an empty value, means no limit.
	Size string

	// Offset holds an optional expression for the number of hits to skip.
	Offset string

	// Sort holds the sort order of the hits.
	Sort []SortField

	// PrettyResults emits only the stored document of each hit.
	PrettyResults bool
}

// DefaultConfig returns a copy of cfg with any zero values set to their
// default values.
func DefaultConfig(cfg Config) Config {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Index == "" {
		cfg.Index = defaultIndex
	}
	if cfg.DocType == "" {
		cfg.DocType = defaultDocType
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = expression.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return cfg
}

func (cfg Config) validate() error {
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("expected Retry.MaxAttempts >= 1, got %d", cfg.Retry.MaxAttempts)
	}
	if err := cfg.Enrich.validate(); err != nil {
		return err
	}
	return nil
}
