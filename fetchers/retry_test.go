package fetchers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { retries = append(retries, attempt) }

	value, result := Retry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if !result.Success || value != "ok" {
		t.Fatalf("expected success, got %q %+v", value, result)
	}
	if result.Attempts != 3 || len(result.Errors) != 2 {
		t.Errorf("attempts = %d, errors = %d", result.Attempts, len(result.Errors))
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestRetryStopsOnContextError(t *testing.T) {
	calls := 0
	_, result := Retry(context.Background(), fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	if calls != 1 || result.Success {
		t.Fatalf("context errors must not be retried, calls = %d", calls)
	}
}

func TestRetryRestrictedErrors(t *testing.T) {
	cfg := fastRetry(4)
	cfg.RetryableErrors = []error{errTransient}
	calls := 0
	_, result := Retry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent")
	})
	if calls != 1 {
		t.Errorf("non retryable error retried %d times", calls)
	}
	if result.LastError() == nil {
		t.Error("expected last error")
	}
}

func TestRetryErrWrapsAttempts(t *testing.T) {
	_, result := Retry(context.Background(), fastRetry(2), func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	if err := result.Err(); !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
}

func TestRetryMultiURL(t *testing.T) {
	urls := []string{"http://a", "http://b", "http://c"}
	value, result := RetryMultiURL(context.Background(), fastRetry(2), urls, func(ctx context.Context, url string) (string, error) {
		if url == "http://b" {
			return "from b", nil
		}
		return "", errTransient
	})
	if !result.Success || value != "from b" || result.SuccessfulURL != "http://b" {
		t.Fatalf("unexpected result %q %+v", value, result)
	}
	if result.TotalAttempts != 3 {
		t.Errorf("TotalAttempts = %d, want 3", result.TotalAttempts)
	}
	if len(result.URLs) != 2 {
		t.Errorf("c must not be attempted, got %+v", result.URLs)
	}
}

func TestRetryMultiURLAllFail(t *testing.T) {
	_, result := RetryMultiURL(context.Background(), fastRetry(1), []string{"http://a"}, func(ctx context.Context, url string) (int, error) {
		return 0, errTransient
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if err := result.Err(); !errors.Is(err, ErrFetchFailed) || !errors.Is(err, errTransient) {
		t.Errorf("expected ErrFetchFailed wrapping the attempt error, got %v", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
	}{
		{"transient status", &StatusError{URL: "http://ocsp", StatusCode: 503}, 3},
		{"rate limited", &StatusError{URL: "http://ocsp", StatusCode: 429}, 3},
		{"not found", &StatusError{URL: "http://crl", StatusCode: 404}, 1},
		{"permanent", permanent(errTransient), 1},
		{"plain error", errTransient, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, result := Retry(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			if calls != tt.calls {
				t.Errorf("calls = %d, want %d", calls, tt.calls)
			}
			if !errors.Is(result.Err(), tt.err) {
				t.Errorf("Err() = %v, must wrap %v", result.Err(), tt.err)
			}
		})
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2}

	if got := cfg.backoff(1, &StatusError{StatusCode: 503, RetryAfter: time.Second}); got != time.Second {
		t.Errorf("backoff = %v, want 1s", got)
	}
	if got := cfg.backoff(1, &StatusError{StatusCode: 503, RetryAfter: time.Minute}); got != 2*time.Second {
		t.Errorf("backoff = %v, want MaxDelay", got)
	}
	if got := cfg.backoff(1, errTransient); got != 100*time.Millisecond {
		t.Errorf("backoff = %v, want 100ms", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"-3", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Hour).Format(http.TimeFormat), 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
