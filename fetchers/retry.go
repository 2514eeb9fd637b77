package fetchers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig configures the backoff applied to each responder URL.
type RetryConfig struct {
	// MaxAttempts includes the first try.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps every delay, including server supplied Retry-After.
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// Jitter adds randomness to delays. 0.1 means +/-10%.
	Jitter float64

	// RetryableErrors restricts retries of errors that carry no HTTP status.
	// If nil, all of them except context errors are retried.
	RetryableErrors []error

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Clock drives the waits between attempts. Defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultRetryConfig returns three attempts with exponential backoff from
// 500ms.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// StatusError is a non-200 answer from an OCSP responder, a CRL
// distribution point or an AIA issuer URL.
type StatusError struct {
	URL        string
	StatusCode int
	// RetryAfter is the delay requested by the server, if any.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrFetchFailed }

// Temporary reports whether the status signals a transient condition.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// permanentError marks failures another attempt at the same URL cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	delay = math.Min(delay, float64(c.MaxDelay))
	if c.Jitter > 0 {
		spread := delay * c.Jitter
		delay += spread * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// backoff is the wait before retrying after err. A Retry-After above the
// computed delay wins, up to MaxDelay.
func (c *RetryConfig) backoff(attempt int, err error) time.Duration {
	delay := c.calculateDelay(attempt)
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > delay {
		delay = min(se.RetryAfter, c.MaxDelay)
	}
	return delay
}

func (c *RetryConfig) isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if len(c.RetryableErrors) == 0 {
		return true
	}
	for _, target := range c.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *RetryConfig) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}

// RetryResult records the attempts made against one URL.
type RetryResult struct {
	Attempts int
	Errors   []error
	Success  bool
}

// LastError returns the last error encountered, or nil.
func (r *RetryResult) LastError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1]
}

// Err joins the attempt errors, or returns nil on success.
func (r *RetryResult) Err() error {
	switch {
	case r.Success || len(r.Errors) == 0:
		return nil
	case len(r.Errors) == 1:
		return r.Errors[0]
	}
	errs := make([]error, len(r.Errors))
	for i, err := range r.Errors {
		errs[i] = fmt.Errorf("attempt %d: %w", i+1, err)
	}
	return errors.Join(errs...)
}

// Retry calls fn until it succeeds, returns a non retryable error or the
// attempts are exhausted.
func Retry[T any](ctx context.Context, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	clock := config.clock()
	attempts := max(config.MaxAttempts, 1)

	result := &RetryResult{}
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt

		value, err := fn(ctx)
		if err == nil {
			result.Success = true
			return value, result
		}
		result.Errors = append(result.Errors, err)

		if attempt == attempts || !config.isRetryable(err) {
			break
		}

		delay := config.backoff(attempt, err)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			return zero, result
		case <-clock.After(delay):
		}
	}
	return zero, result
}

// URLAttempt is the outcome of the retries against one URL.
type URLAttempt struct {
	URL      string
	Attempts int
	Err      error
}

// MultiURLResult records the URLs tried in order.
type MultiURLResult struct {
	SuccessfulURL string
	URLs          []URLAttempt
	TotalAttempts int
	Success       bool
}

// Err wraps ErrFetchFailed and every URL error, or returns nil on success.
func (r *MultiURLResult) Err() error {
	if r.Success {
		return nil
	}
	if len(r.URLs) == 0 {
		return fmt.Errorf("%w: no URL to try", ErrFetchFailed)
	}
	errs := make([]error, 0, len(r.URLs))
	for _, u := range r.URLs {
		errs = append(errs, fmt.Errorf("%s: %w", u.URL, u.Err))
	}
	return fmt.Errorf("%w: %w", ErrFetchFailed, errors.Join(errs...))
}

// RetryMultiURL tries each URL in order, with retries per URL, and returns on
// first success. Responders listed later are fallbacks, not mirrors, so a
// cancelled context stops the walk.
func RetryMultiURL[T any](
	ctx context.Context,
	config *RetryConfig,
	urls []string,
	fn func(ctx context.Context, url string) (T, error),
) (T, *MultiURLResult) {
	result := &MultiURLResult{URLs: make([]URLAttempt, 0, len(urls))}

	var zero T
	for _, url := range urls {
		value, rr := Retry(ctx, config, func(ctx context.Context) (T, error) {
			return fn(ctx, url)
		})
		result.TotalAttempts += rr.Attempts
		result.URLs = append(result.URLs, URLAttempt{URL: url, Attempts: rr.Attempts, Err: rr.Err()})

		if rr.Success {
			result.SuccessfulURL = url
			result.Success = true
			return value, result
		}
		if ctx.Err() != nil {
			break
		}
	}
	return zero, result
}
