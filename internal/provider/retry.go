package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Muvon/octomind-sub000/internal/logging"
)

// RetryConfig controls retries of transient provider failures.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry policy used for configured vendors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

type retryingAdapter struct {
	Adapter
	cfg RetryConfig
}

// WithRetry wraps an adapter so rate-limit and network failures are retried
// with exponential backoff. Other failures and cancellation return at once.
func WithRetry(a Adapter, cfg RetryConfig) Adapter {
	if cfg.MaxRetries == 0 {
		return a
	}
	return &retryingAdapter{Adapter: a, cfg: cfg}
}

func (r *retryingAdapter) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	return backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)
}

func (r *retryingAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	op := func() error {
		out, err := r.Adapter.Complete(ctx, req)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Retryable() && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn().
			Str("vendor", r.Vendor()).
			Str("model", r.Model()).
			Err(err).
			Dur("retry_in", wait).
			Msg("Provider call failed, retrying")
	}

	if err := backoff.RetryNotify(op, r.newBackoff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, classify(ctx, r.Vendor(), r.Model(), ctx.Err())
		}
		return nil, err
	}
	return resp, nil
}
