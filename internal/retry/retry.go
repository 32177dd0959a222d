// Package retry wraps fallible Google API calls with
// classification-aware exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
)

// Class partitions errors into retryable and terminal.
type Class int

const (
	// Transient errors may succeed on a later attempt.
	Transient Class = iota
	// Permanent errors will not improve with retries.
	Permanent
)

// Classify decides whether err is worth retrying. Rate limits, server
// unavailability, timeouts, and connection resets are Transient; auth
// failures, malformed requests, and not-found are Permanent.
func Classify(err error) Class {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return Transient
		}
		return Permanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return Transient
	}
	return Permanent
}

// Policy holds the retry parameters for one class of calls. The zero
// value runs the call exactly once.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      bool

	// Sleep is swapped out in tests; nil means a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default mirrors the stock configuration: three attempts starting two
// seconds apart, doubling between attempts.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
}

// Do runs fn until it succeeds, fails permanently, or exhausts
// MaxAttempts. The delay before attempt n+1 is BaseDelay *
// Multiplier^(n-1), jittered by ±50% when Jitter is set. Context
// cancellation during backoff aborts immediately.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) == Permanent {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt == attempts {
			break
		}
		d := delay
		if p.Jitter {
			d = jitter(d)
		}
		if sleepErr := sleep(ctx, d); sleepErr != nil {
			return fmt.Errorf("%s: %w", op, sleepErr)
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return fmt.Errorf("%s after %d attempts: %w", op, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jitter spreads d uniformly over [d/2, 3d/2].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)+1))
}
