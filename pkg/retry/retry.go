// Package retry re-runs failed device refreshes with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/williw/nodecore/pkg/clock"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, the first included.
	// Zero retries until the context is cancelled.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter randomizes each delay by +/- this fraction.
	Jitter float64

	// Retryable decides whether err warrants another attempt.
	// Nil treats every error as retryable.
	Retryable func(error) bool

	// OnRetry, if set, is called before each wait with the attempt that
	// just failed.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Clock drives the delays. Nil uses real time.
	Clock clock.Clock
}

// RefreshConfig returns the policy used when a device callback fails.
// Host callbacks are local and cheap, so retries are few and quick.
func RefreshConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// backoff yields the successive waits of a Config.
type backoff struct {
	next   time.Duration
	max    time.Duration
	factor float64
	jitter float64
}

func newBackoff(cfg Config) *backoff {
	b := &backoff{next: cfg.InitialDelay, max: cfg.MaxDelay, factor: cfg.Multiplier, jitter: cfg.Jitter}
	if b.next <= 0 {
		b.next = time.Second
	}
	if b.max <= 0 {
		b.max = 30 * time.Second
	}
	if b.max < b.next {
		b.max = b.next
	}
	if b.factor <= 0 {
		b.factor = 2.0
	}
	return b
}

// wait returns the delay before the coming retry and advances the schedule.
func (b *backoff) wait() time.Duration {
	d := b.next
	b.next = min(time.Duration(float64(b.next)*b.factor), b.max)
	if b.jitter > 0 {
		spread := float64(d) * b.jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done. It returns the last error seen, joined with the
// context error when cancellation cut the retries short.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	b := newBackoff(cfg)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			return nil
		case cfg.Retryable != nil && !cfg.Retryable(lastErr):
			return lastErr
		case cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts:
			return lastErr
		}

		wait := b.wait()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, wait)
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-clk.After(wait):
		}
	}
}
