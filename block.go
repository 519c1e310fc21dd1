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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elastic/go-esblocks/esapi"
	"github.com/elastic/go-esblocks/expression"
)

var (
	// ErrNotConfigured is returned when a block is used before Configure
	// has succeeded.
	ErrNotConfigured = errors.New("block not configured")

	// ErrNotRunning is returned from ProcessSignals outside of the
	// Start/Stop window.
	ErrNotRunning = errors.New("block not running")

	errStopped            = errors.New("block stopped")
	errInvalidValue       = errors.New("invalid value")
	errUnexpectedResponse = errors.New("unexpected response")
)

type state int

const (
	stateUnconfigured state = iota
	stateConfigured
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateUnconfigured:
		return "unconfigured"
	case stateConfigured:
		return "configured"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// request holds the store call parameters derived from one signal.
type request struct {
	signal  Signal
	index   string
	docType string
	body    map[string]any
}

// operation is the store-specific half of a block.
type operation interface {
	// name identifies the operation in logs, traces and metrics.
	name() string
	// buildBody sets r.body for the signal in r.
	buildBody(r *request) error
	// execute runs the request and returns the results, already converted
	// into signals. Malformed responses wrap errUnexpectedResponse.
	execute(ctx context.Context, client esapi.Transport, r request) ([]Signal, error)
}

// batchOperation is implemented by operations able to run a whole batch
// with a single store call.
type batchOperation interface {
	operation
	batchEnabled() bool
	executeBatch(ctx context.Context, client esapi.Transport, reqs []request) ([]batchResult, error)
}

// batchResult holds the outcome of one request of a batch.
type batchResult struct {
	signals []Signal
	err     error
}

// Block holds the lifecycle and the signal pipeline shared by the
// Elasticsearch blocks.
//
// A Block moves from unconfigured to configured with Configure, and
// between running and stopped with Start and Stop. ProcessSignals is only
// accepted while running. Calls to ProcessSignals are expected to be
// serialised by the caller.
type Block struct {
	config  Config
	op      operation
	metrics metrics

	// tracer is an OTel tracer, and should not be confused with
	// `b.config.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer

	mu     sync.Mutex
	state  state
	client *elasticsearch.Client
	runCtx context.Context
	stop   context.CancelCauseFunc
}

func newBlock(cfg Config, op operation) (*Block, error) {
	cfg = DefaultConfig(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	b := &Block{
		config:  cfg,
		op:      op,
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		b.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-esblocks")
	}
	return b, nil
}

// Configure creates the Elasticsearch client. If the client cannot be
// created an error is returned and the block remains unconfigured.
func (b *Block) Configure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateRunning {
		return errors.New("cannot configure a running block")
	}

	logger := b.config.Logger
	url := BuildHostURL(b.config.Host, b.config.Port, b.config.Auth)
	logger.Debug("creating elasticsearch client",
		zap.String("host", b.config.Host),
		zap.Int("port", b.config.Port),
		zap.Bool("https", b.config.Auth.UseHTTPS),
	)
	cfg := ClientConfig(url, b.config.ClientOptions, logger)
	transport := b.config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	cfg.Transport = apmelasticsearch.WrapRoundTripper(transport)
	if l := newTransportLogger(logger); l != nil {
		cfg.Logger = l
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		b.client = nil
		b.state = stateUnconfigured
		return fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	b.client = client
	b.state = stateConfigured
	return nil
}

// Start marks the block as running.
func (b *Block) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateConfigured, stateStopped:
	case stateRunning:
		return nil
	default:
		return ErrNotConfigured
	}
	b.runCtx, b.stop = context.WithCancelCause(context.Background())
	b.state = stateRunning
	return nil
}

// Stop marks the block as stopped, cancelling any in-flight retry backoff
// or store call.
func (b *Block) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateRunning {
		return nil
	}
	b.stop(errStopped)
	b.state = stateStopped
	return nil
}

// Connected pings Elasticsearch and reports whether it answered
// successfully.
func (b *Block) Connected(ctx context.Context) (bool, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return false, ErrNotConfigured
	}
	res, err := esapi.PingRequest{}.Do(ctx, client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return !res.IsError(), nil
}

// ProcessSignals runs the block over a batch of signals, in order, and
// notifies the produced signals on DefaultTerminal. Failures are logged and
// only drop the signal that caused them. Nothing is notified if no signal
// produced output.
//
// ProcessSignals returns ErrNotRunning when called outside of the Start/Stop
// window.
func (b *Block) ProcessSignals(ctx context.Context, signals []Signal) error {
	b.mu.Lock()
	if b.state != stateRunning {
		b.mu.Unlock()
		return ErrNotRunning
	}
	runCtx, client := b.runCtx, b.client
	b.mu.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopCancel := context.AfterFunc(runCtx, func() { cancel(context.Cause(runCtx)) })
	defer stopCancel()

	logger := b.config.Logger
	var tx *apm.Transaction
	if b.config.Tracer != nil {
		// The batch is traced on its own, linked to the caller's trace.
		var opts apm.TransactionOptions
		if link := callerLink(ctx); link != nil {
			opts.Links = []apm.SpanLink{link.apmLink()}
		}
		tx = b.config.Tracer.StartTransactionOptions("esblocks."+b.op.name(), "block", opts)
		tx.Context.SetLabel("signals", len(signals))
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-signal errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	b.metrics.signalsReceived.Add(context.Background(), int64(len(signals)), b.metrics.attrs)

	var output []Signal
	var failed int
	if bop, ok := b.op.(batchOperation); ok && bop.batchEnabled() {
		output, failed = b.processBatch(ctx, logger, client, bop, signals)
	} else {
		for _, s := range signals {
			out, err := b.processSignal(ctx, logger, client, s)
			if err != nil {
				failed++
				continue
			}
			output = append(output, out...)
		}
	}
	if tx != nil {
		tx.Outcome = "success"
		if failed > 0 {
			tx.Outcome = "failure"
		}
	}

	if len(output) == 0 {
		return nil
	}
	b.metrics.signalsEmitted.Add(context.Background(), int64(len(output)), b.metrics.attrs)
	if b.config.Notifier != nil {
		b.config.Notifier.NotifySignals(DefaultTerminal, output)
	}
	return nil
}

func (b *Block) processSignal(ctx context.Context, logger *zap.Logger, client esapi.Transport, s Signal) ([]Signal, error) {
	req, err := b.buildRequest(s)
	if err != nil {
		b.drop(ctx, logger, dropEvaluation, "failed to build request, dropping signal", err)
		return nil, err
	}
	logger.Debug("executing "+b.op.name(),
		zap.String("index", req.index),
		zap.String("doc_type", req.docType),
	)

	var results []Signal
	err = b.withRetry(ctx, logger, func(ctx context.Context) error {
		return b.measure(ctx, b.op.name(), req.index, func(ctx context.Context) error {
			var err error
			results, err = b.op.execute(ctx, client, req)
			return err
		})
	})
	if err != nil {
		reason := dropStore
		if errors.Is(err, errUnexpectedResponse) {
			reason = dropResponse
		}
		b.drop(ctx, logger.With(zap.String("index", req.index)), reason, b.op.name()+" failed, dropping signal", err)
		return nil, err
	}
	out := make([]Signal, len(results))
	for i, r := range results {
		out[i] = Enrich(b.config.Enrich, s, r)
	}
	return out, nil
}

func (b *Block) processBatch(ctx context.Context, logger *zap.Logger, client esapi.Transport, op batchOperation, signals []Signal) ([]Signal, int) {
	var failed int
	reqs := make([]request, 0, len(signals))
	for _, s := range signals {
		req, err := b.buildRequest(s)
		if err != nil {
			failed++
			b.drop(ctx, logger, dropEvaluation, "failed to build request, dropping signal", err)
			continue
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, failed
	}

	var results []batchResult
	err := b.withRetry(ctx, logger, func(ctx context.Context) error {
		return b.measure(ctx, "bulk", "", func(ctx context.Context) error {
			var err error
			results, err = op.executeBatch(ctx, client, reqs)
			return err
		})
	})
	if err != nil {
		logger.Error("bulk request failed, dropping batch", zap.Int("signals", len(reqs)), zap.Error(err))
		b.metrics.dropped(ctx, len(reqs), dropStore)
		b.captureError(ctx, err)
		return nil, failed + len(reqs)
	}

	var output []Signal
	for i, r := range results {
		if r.err != nil {
			failed++
			b.drop(ctx, logger.With(zap.String("index", reqs[i].index)), dropStore, "failed to index signal, dropping it", r.err)
			continue
		}
		for _, res := range r.signals {
			output = append(output, Enrich(b.config.Enrich, reqs[i].signal, res))
		}
	}
	return output, failed
}

// buildRequest derives a fresh request from s.
func (b *Block) buildRequest(s Signal) (request, error) {
	docType, err := b.evaluateString("doc_type", b.config.DocType, s)
	if err != nil {
		return request{}, err
	}
	index, err := b.evaluateString("index", b.config.Index, s)
	if err != nil {
		return request{}, err
	}
	req := request{signal: s, index: index, docType: docType}
	if err := b.op.buildBody(&req); err != nil {
		return request{}, err
	}
	return req, nil
}

func (b *Block) evaluateString(name, expr string, s Signal) (string, error) {
	v, err := b.config.Evaluator.Evaluate(expr, s)
	if err != nil {
		return "", fmt.Errorf("%s failed to evaluate: %w", name, err)
	}
	if !expression.Truthy(v) {
		return "", fmt.Errorf("%w: %s evaluated to %q", errInvalidValue, name, expression.Stringify(v))
	}
	return expression.Stringify(v), nil
}

func (b *Block) withRetry(ctx context.Context, logger *zap.Logger, fn func(context.Context) error) error {
	policy := b.config.Retry
	shouldRetry := policy.ShouldRetry
	policy.ShouldRetry = func(err error) bool {
		switch {
		case errors.Is(err, errUnexpectedResponse):
			return false
		case ctx.Err() != nil:
			return false
		case errors.As(err, new(errorTooManyRequests)):
			return true
		case errors.Is(err, context.DeadlineExceeded):
			// The request timeout expired while the signal is still live.
			return true
		}
		return shouldRetry(err)
	}
	return policy.Do(ctx, fn, func(attempt int, wait time.Duration, err error) {
		b.metrics.retries.Add(context.Background(), 1, b.metrics.attrs)
		logger.Warn("store request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
}

// measure runs one store call, applying the request timeout and recording
// its span and metrics.
func (b *Block) measure(ctx context.Context, operation, index string, fn func(context.Context) error) error {
	if b.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}
	var span trace.Span
	if b.tracer != nil {
		opts := []trace.SpanStartOption{trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("index", index),
		)}
		if tx := apm.TransactionFromContext(ctx); tx != nil {
			if link := linkFromAPM(tx.TraceContext()); link != nil {
				opts = append(opts, trace.WithLinks(link.otelLink()))
			}
		}
		ctx, span = b.tracer.Start(ctx, "esblocks."+operation, opts...)
		defer span.End()
	}

	var err error
	took := timeFunc(func() { err = fn(ctx) })
	b.metrics.request(context.Background(), operation, took.Seconds(), err)
	if span != nil && span.IsRecording() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, operation+" request failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

func (b *Block) drop(ctx context.Context, logger *zap.Logger, reason, msg string, err error) {
	logger.Error(msg, zap.String("reason", reason), zap.Error(err))
	b.metrics.dropped(context.Background(), 1, reason)
	b.captureError(ctx, err)
}

func (b *Block) captureError(ctx context.Context, err error) {
	if b.config.Tracer != nil {
		apm.CaptureError(ctx, err).Send()
	}
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
