// Package retry re-invokes remote calls that fail with a transient error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultRetries is the retry budget of a regular call. A call runs at most DefaultRetries+1 times.
	DefaultRetries = 4
	// FetchOrderRetries is the retry budget of order lookups.
	FetchOrderRetries = 5
)

// Policy decides which errors are retried and how long to wait in between.
type Policy struct {
	// Retries is the number of extra attempts after the first one. Negative means zero.
	Retries int
	// IsTransient reports whether err may succeed on a later attempt. Nil retries nothing.
	IsTransient func(err error) bool
	// NewBackOff creates the delay schedule for one call. Nil means no delay.
	NewBackOff func() backoff.BackOff
	// Interrupted converts the context error returned when ctx ends the call. Nil returns it as is.
	Interrupted func(err error) error
	Logger      *zap.Logger
}

// New returns a policy with an exponential delay schedule starting at initial and capped at maxInterval.
func New(retries int, isTransient func(error) bool, initial, maxInterval time.Duration, logger *zap.Logger) Policy {
	return Policy{
		Retries:     retries,
		IsTransient: isTransient,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.Multiplier = 2
			b.RandomizationFactor = 0.5
			b.MaxElapsedTime = 0 // bounded by the retry budget and the context
			return b
		},
		Logger: logger,
	}
}

// WithRetries returns a copy of p with another retry budget.
func (p Policy) WithRetries(n int) Policy {
	p.Retries = n
	return p
}

// WithoutDelay returns a copy of p that retries immediately.
func (p Policy) WithoutDelay() Policy {
	p.NewBackOff = nil
	return p
}

func (p Policy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p Policy) transient(err error) bool {
	return p.IsTransient != nil && p.IsTransient(err)
}

func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs fn, retrying transient failures within the budget of p.
// Non-transient errors are returned after the first attempt. When the budget is
// spent the last transient error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	log := p.logger()
	attempt := 0

	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !p.transient(err) {
			return v, backoff.Permanent(err)
		}
		log.Warn("Request returned error", zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
		return v, err
	}
	notify := func(err error, delay time.Duration) {
		log.Warn("Retrying request",
			zap.String("op", name),
			zap.Int("retries_left", p.Retries-attempt+1),
			zap.Duration("delay", delay),
		)
	}

	v, err := backoff.RetryNotifyWithData(op, p.schedule(ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && p.Interrupted != nil {
		return v, p.Interrupted(err)
	}
	if err != nil && p.transient(err) {
		log.Warn("Giving up retrying", zap.String("op", name), zap.Int("attempts", attempt))
	}
	return v, err
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
