// Package retry wraps blocking calls in a bounded exponential backoff that only
// retries errors its predicate classifies as transient.
package retry

import (
	"context"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Policy is shared by the upstream fetch client and the store.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failed attempt is worth repeating. A nil
	// predicate retries every error.
	Retryable func(error) bool
	Log       zerolog.Logger
}

// Delayer is implemented by errors that carry a server-provided wait, such as
// a Retry-After header.
type Delayer interface {
	RetryAfter() time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		exp.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()

	h := &hinted{BackOff: exp, max: exp.MaxInterval}
	b := backoff.WithContext(backoff.WithMaxRetries(h, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		var d Delayer
		if errors.As(err, &d) {
			h.next = d.RetryAfter()
		}
		return err
	}, b, func(err error, wait time.Duration) {
		p.Log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("wait", wait).
			Msg("retrying")
	})
	return err
}

// hinted prefers a one-shot server hint over the exponential schedule.
type hinted struct {
	backoff.BackOff
	max  time.Duration
	next time.Duration
}

func (h *hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if h.next > 0 {
		d = h.next
		h.next = 0
		if h.max > 0 && d > h.max {
			d = h.max
		}
	}
	return d
}

// IsNetwork reports timeouts, refused or reset connections and truncated
// responses.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
