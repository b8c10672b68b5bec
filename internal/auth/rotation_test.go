package auth

import (
	"testing"
	"time"
)

func TestNextAvailableSkipsCoolingDownProfiles(t *testing.T) {
	r := NewRotator("")
	r.AddProfile("anthropic", "a", "key-a")
	r.AddProfile("anthropic", "b", "key-b")

	r.RecordFailure("anthropic", "a", true) // puts "a" in cooldown

	p := r.NextAvailable("anthropic")
	if p == nil || p.ID != "b" {
		t.Fatalf("expected profile b to be selected, got %+v", p)
	}
}

func TestNextAvailableReturnsNilWhenAllCoolingDown(t *testing.T) {
	r := NewRotator("")
	r.AddProfile("anthropic", "a", "key-a")
	r.RecordFailure("anthropic", "a", true)

	if p := r.NextAvailable("anthropic"); p != nil {
		t.Fatalf("expected nil when all profiles cooling down, got %+v", p)
	}
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	r := NewRotator("")
	r.AddProfile("anthropic", "a", "key-a")
	r.RecordFailure("anthropic", "a", false)
	r.RecordFailure("anthropic", "a", false)
	r.RecordSuccess("anthropic", "a")

	p := r.find("anthropic", "a")
	if p.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", p.FailureCount)
	}
}

func TestRateLimitedFailureAppliesImmediateCooldown(t *testing.T) {
	r := NewRotator("")
	r.AddProfile("anthropic", "a", "key-a")
	before := time.Now()
	r.RecordFailure("anthropic", "a", true)

	p := r.find("anthropic", "a")
	if !p.CooldownUntil.After(before.Add(defaultRateLimitCooldown - time.Second)) {
		t.Fatalf("expected ~10 minute cooldown, got until %v", p.CooldownUntil)
	}
}

func TestNonRateLimitedFailureNeedsThreshold(t *testing.T) {
	r := NewRotator("")
	r.AddProfile("anthropic", "a", "key-a")
	r.RecordFailure("anthropic", "a", false)

	p := r.find("anthropic", "a")
	if !p.CooldownUntil.IsZero() {
		t.Fatalf("single non-rate-limited failure should not trigger cooldown yet")
	}
}
