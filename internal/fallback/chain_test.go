package fallback

import (
	"errors"
	"testing"
)

func TestChainAdvancesThroughFallbacks(t *testing.T) {
	c := NewChain("claude-opus-4", []string{"claude-sonnet-4-5", "gpt-4o"})
	if c.CurrentModel() != "claude-opus-4" {
		t.Fatalf("expected primary model first")
	}
	m, ok := c.NextModel()
	if !ok || m != "claude-sonnet-4-5" {
		t.Fatalf("expected first fallback, got %s ok=%v", m, ok)
	}
	m, ok = c.NextModel()
	if !ok || m != "gpt-4o" {
		t.Fatalf("expected second fallback, got %s ok=%v", m, ok)
	}
	if _, ok := c.NextModel(); ok {
		t.Fatal("expected chain exhausted")
	}
	if !c.Exhausted() {
		t.Fatal("expected Exhausted() true")
	}
}

func TestResetReturnsToPrimary(t *testing.T) {
	c := NewChain("primary", []string{"fb1"})
	c.NextModel()
	c.Reset()
	if c.CurrentModel() != "primary" {
		t.Fatalf("expected reset to return to primary model")
	}
}

func TestShouldFailoverOnlyForEligibleCategories(t *testing.T) {
	if !ShouldFailover(errors.New("429 too many requests")) {
		t.Error("rate limit should be failover-eligible")
	}
	if !ShouldFailover(errors.New("invalid api key")) {
		t.Error("auth errors should be failover-eligible")
	}
	if ShouldFailover(errors.New("malformed tool arguments")) {
		t.Error("unknown/non-transport errors should not trigger failover")
	}
}
