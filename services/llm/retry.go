// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy describes exponential backoff between attempts.
//
// The wait before retry n (1-based) is Multiplier * 2^(n-1) seconds,
// clamped to [MinWait, MaxWait].
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is four attempts with waits of 2s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		MinWait:     2 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  1,
	}
}

// Backoff returns the wait after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	wait := time.Duration(mult * math.Pow(2, float64(attempt-1)) * float64(time.Second))
	if wait < p.MinWait {
		wait = p.MinWait
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}
	return wait
}

// RetryingClient retries transient failures of the wrapped client.
//
// ErrNoMessages and context cancellation are returned immediately. After
// the last attempt the final error is returned unchanged.
type RetryingClient struct {
	inner  LLMClient
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps inner with policy.
func NewRetryingClient(inner LLMClient, policy RetryPolicy) *RetryingClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingClient{inner: inner, policy: policy, sleep: sleepContext}
}

func (r *RetryingClient) Backend() string { return r.inner.Backend() }

func (r *RetryingClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		out, err := r.inner.Chat(ctx, messages, params)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.policy.Backoff(attempt)
		slog.Warn("Retrying chat completion",
			"backend", r.inner.Backend(),
			"attempt", attempt,
			"wait", wait,
			"error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNoMessages),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ LLMClient = (*RetryingClient)(nil)
