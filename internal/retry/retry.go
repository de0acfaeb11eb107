// Package retry implements the bounded, jittered exponential backoff
// policy used around flaky network operations (segment downloads,
// playlist refreshes): a Policy drives repeated attempts of an
// operation, classifying errors as retryable or fatal and honoring
// context cancellation without sleeping past it.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrCancelled is surfaced immediately when the context is cancelled,
// in place of whatever error the in-flight attempt returned.
var ErrCancelled = errors.New("retry: cancelled")

// Policy configures Engine.Run.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// saturatingPow2 computes 2^attempt as a float64, saturating rather than
// overflowing once attempt grows large enough that the shift would be
// meaningless (matches the "2^attempt saturates at attempt>=32" rule:
// base*2^32 already exceeds any sane MaxDelay, so further growth is
// clamped by the min() below regardless of exactness past that point).
func saturatingPow2(attempt int) float64 {
	if attempt >= 32 {
		attempt = 32
	}
	return float64(uint64(1) << uint(attempt))
}

// Delay computes the backoff delay for the given zero-based attempt
// number under p: min(base*2^attempt, max), plus, if Jitter is set, a
// uniformly random extra delay in [0, min(base/2, max-capped)).
func (p Policy) Delay(attempt int) time.Duration {
	capped := time.Duration(float64(p.BaseDelay) * saturatingPow2(attempt))
	if capped > p.MaxDelay || capped < 0 {
		capped = p.MaxDelay
	}
	if !p.Jitter {
		return capped
	}

	jitterCeiling := p.BaseDelay / 2
	if room := p.MaxDelay - capped; room < jitterCeiling {
		jitterCeiling = room
	}
	if jitterCeiling <= 0 {
		return capped
	}
	return capped + time.Duration(rand.Int64N(int64(jitterCeiling)))
}

// curve adapts Policy to backoff.BackOff so backoff.Retry can drive the
// attempt loop (context cancellation, max-tries bookkeeping, Permanent
// unwrapping) while the actual delay values stay Policy's own formula.
type curve struct {
	policy  Policy
	attempt int
}

func (c *curve) NextBackOff() time.Duration {
	d := c.policy.Delay(c.attempt)
	c.attempt++
	return d
}

func (c *curve) Reset() {
	c.attempt = 0
}

// Classify reports whether err should be retried. Network connect,
// timeout, request, and response-body errors are retryable; redirect
// and request-construction ("builder") errors are not, since retrying
// them would reproduce the same failure.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Op == "parse" {
			return false // request-construction/builder error
		}
		if strings.Contains(urlErr.Err.Error(), "redirect") {
			return false // e.g. "stopped after 10 redirects": retrying reproduces the same loop
		}
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// Engine runs operations under a Policy.
type Engine struct {
	Policy Policy
}

// New returns an Engine configured with policy.
func New(policy Policy) *Engine {
	return &Engine{Policy: policy}
}

// Run executes op, retrying on retryable errors (per Classify, or per a
// caller-supplied classify override) up to Policy.MaxRetries additional
// times, sleeping Policy.Delay between attempts. If ctx is cancelled at
// any point — including while about to sleep — it returns ErrCancelled
// immediately without sleeping further.
func (e *Engine) Run(ctx context.Context, op func(ctx context.Context) error) error {
	return e.RunWithClassifier(ctx, op, Classify)
}

// RunWithClassifier is Run with an explicit retryability classifier,
// letting callers retry on narrower or broader criteria than the
// package default.
func (e *Engine) RunWithClassifier(ctx context.Context, op func(ctx context.Context) error, classify func(error) bool) error {
	c := &curve{policy: e.Policy}

	wrapped := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(ErrCancelled)
		}
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !classify(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(c),
		backoff.WithMaxTries(uint(e.Policy.MaxRetries)+1),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ErrCancelled
		}
	}
	return err
}
