package gateway

import "testing"

func TestRateLimiterDisabledWhenRPMNotPositive(t *testing.T) {
	l := NewRateLimiter(0, 5)
	if l.Enabled() {
		t.Fatal("expected rate limiter with rpm=0 to be disabled")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("conn-1") {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	l := NewRateLimiter(60, 2)
	if !l.Enabled() {
		t.Fatal("expected limiter with positive rpm to be enabled")
	}
	if !l.Allow("conn-1") || !l.Allow("conn-1") {
		t.Fatal("expected burst allowance to permit the first two calls")
	}
	if l.Allow("conn-1") {
		t.Fatal("expected third immediate call to exceed burst")
	}
}

func TestRateLimiterTracksConnectionsIndependently(t *testing.T) {
	l := NewRateLimiter(60, 1)
	if !l.Allow("conn-a") {
		t.Fatal("expected conn-a's first call to be allowed")
	}
	if !l.Allow("conn-b") {
		t.Fatal("expected conn-b to have its own independent bucket")
	}
}

func TestRateLimiterForgetReleasesConnection(t *testing.T) {
	l := NewRateLimiter(60, 1)
	l.Allow("conn-1")
	l.Forget("conn-1")
	l.mu.Lock()
	_, exists := l.limiters["conn-1"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected Forget to remove the connection's limiter")
	}
}
