package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{errors.New("invalid api key provided"), CategoryAuth},
		{errors.New("429 Too Many Requests"), CategoryRateLimit},
		{errors.New("context deadline exceeded"), CategoryTimeout},
		{errors.New("502 Bad Gateway"), CategoryServerError},
		{errors.New("something weird"), CategoryUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestRetryableAndFailoverEligible(t *testing.T) {
	if !CategoryTimeout.Retryable() {
		t.Error("timeout should be retryable")
	}
	if CategoryAuth.Retryable() {
		t.Error("auth should not be independently retryable")
	}
	if !CategoryAuth.FailoverEligible() {
		t.Error("auth should be failover-eligible")
	}
	if CategoryUnknown.FailoverEligible() {
		t.Error("unknown should not be failover-eligible")
	}
}

func TestBackoffFormula(t *testing.T) {
	cfg := DefaultRetryConfig()
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for n, w := range want {
		if got := cfg.Backoff(n + 1); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", n+1, got, w)
		}
	}
	if got := cfg.Backoff(10); got != 30*time.Second {
		t.Errorf("Backoff should cap at 30s, got %s", got)
	}
}

func TestRetryDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestRetryDoRetriesTransient(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 calls, got %d", calls)
	}
}

func TestParseModelID(t *testing.T) {
	provider, model := ParseModelID("openai/gpt-4o")
	if provider != "openai" || model != "gpt-4o" {
		t.Fatalf("got %s/%s", provider, model)
	}
	provider, model = ParseModelID("claude-sonnet-4-5")
	if provider != "anthropic" || model != "claude-sonnet-4-5" {
		t.Fatalf("bare model id should default to anthropic, got %s/%s", provider, model)
	}
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	r.RegisterFallback(func(name, cred, base string) Provider {
		return NewOpenAIProvider(name, cred, base, "")
	})
	p, model, err := r.Resolve("customvendor/some-model", "key", "https://example.com/v1")
	if err != nil {
		t.Fatal(err)
	}
	if model != "some-model" {
		t.Fatalf("expected model some-model, got %s", model)
	}
	if p.Name() != "customvendor" {
		t.Fatalf("expected fallback provider named customvendor, got %s", p.Name())
	}
}
