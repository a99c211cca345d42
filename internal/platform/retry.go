package platform

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
)

// RetryConfig controls the exponential backoff applied to transient
// transport errors.
type RetryConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultRetryConfig matches stated defaults exactly:
// "initial 1s, factor 2, cap 10s, max 3 attempts".
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 1 * time.Second,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  3,
	}
}

// delayForAttempt returns the backoff delay before attempt k (1-indexed),
// i.e. delay(1) is the wait before the 2nd attempt.
func (rc RetryConfig) delayForAttempt(k int) time.Duration {
	d := float64(rc.InitialDelay)
	for i := 1; i < k; i++ {
		d *= rc.Factor
	}
	delay := time.Duration(d)
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	return delay
}

// transientClasses are substrings of a transport error that classify it as
// retryable: network reset, timeout, DNS failure, and documented
// rate-limit response text from the `gh` CLI.
var transientClasses = []string{
	"connection reset",
	"i/o timeout",
	"timeout",
	"no such host",
	"dial tcp",
	"EOF",
	"temporary failure",
	"rate limit",
	"API rate limit exceeded",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero gh exit by itself is not evidence of a transient
		// failure; the caller inspects stderr text for the class.
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, class := range transientClasses {
		if strings.Contains(msg, strings.ToLower(class)) {
			return true
		}
	}
	return false
}

func isRateLimited(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "api rate limit exceeded")
}

// withRetry runs op, retrying transient failures with exponential backoff
// up to rc.MaxAttempts. It never retries a non-transient error. If op
// reports a rate-limit condition via errs.CodeRateLimit, withRetry consults
// the reset time: when the remaining wait would exceed the context
// deadline, it gives up immediately with that same error instead of
// sleeping past the deadline.
func withRetry(ctx context.Context, rc RetryConfig, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if rlErr, ok := err.(*errs.Error); ok && rlErr.Code == errs.CodeRateLimit {
			reset, _ := rlErr.Details["reset"].(time.Time)
			if deadline, hasDeadline := ctx.Deadline(); hasDeadline && !reset.IsZero() && reset.After(deadline) {
				return err
			}
			if !reset.IsZero() {
				wait := time.Until(reset)
				if wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				continue
			}
			return err
		}

		if !isTransient(err) || attempt == rc.MaxAttempts {
			break
		}

		delay := rc.delayForAttempt(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errs.Wrap(errs.CodeNetwork, lastErr, "platform call failed after %d attempts", rc.MaxAttempts)
}
