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
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultMaxAttempts = 2

// RetryPolicy controls how a failed store call is retried.
type RetryPolicy struct {
	// MaxAttempts holds the total number of attempts, including the first.
	//
	// If MaxAttempts is zero, the default of 2 will be used.
	MaxAttempts int

	// Delay returns how long to wait after the given failed attempt,
	// numbered from 1.
	//
	// If Delay is nil, the wait is attempt seconds.
	Delay func(attempt int) time.Duration

	// ShouldRetry reports whether err is worth retrying.
	//
	// If ShouldRetry is nil, every error is retried except context
	// cancellation and deadline errors.
	ShouldRetry func(err error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Delay == nil {
		p.Delay = linearDelay
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = retryUnlessCancelled
	}
	return p
}

func linearDelay(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

func retryUnlessCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// attemptBackOff is a backoff.BackOff that asks Delay for the wait after
// each failed attempt.
type attemptBackOff struct {
	delay   func(attempt int) time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	if d := b.delay(b.attempt); d > 0 {
		return d
	}
	return 0
}

func (b *attemptBackOff) Reset() { b.attempt = 0 }

// Do calls fn until it succeeds, the attempts are exhausted, ShouldRetry
// rejects the error or ctx is done. The backoff wait is cancelled with ctx.
// onRetry, if non-nil, is called before every wait with the failed attempt
// and the wait that follows it.
func (p RetryPolicy) Do(
	ctx context.Context,
	fn func(context.Context) error,
	onRetry func(attempt int, wait time.Duration, err error),
) error {
	p = p.withDefaults()
	var retries uint64
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(&attemptBackOff{delay: p.Delay}, retries),
		ctx,
	)
	var lastErr error
	var attempt int
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = fn(ctx)
		if lastErr != nil && !p.ShouldRetry(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, b, func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	})
	if err != nil && lastErr != nil && ctx.Err() != nil && !errors.Is(err, lastErr) {
		// The wait was cancelled; keep the store error alongside the cause.
		return errors.Join(lastErr, context.Cause(ctx))
	}
	return err
}
