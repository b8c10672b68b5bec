package channels

import (
	"testing"
	"time"
)

func TestOutboundSendLimiterAllowsFirstSendThenBlocksWithinWindow(t *testing.T) {
	l := NewOutboundSendLimiter()

	if !l.Allow("telegram") {
		t.Fatal("expected the first send on a fresh channel to be allowed")
	}
	if l.Allow("telegram") {
		t.Fatal("expected a second immediate send within the window to be denied")
	}
}

func TestOutboundSendLimiterTracksChannelsIndependently(t *testing.T) {
	l := NewOutboundSendLimiter()

	if !l.Allow("telegram") {
		t.Fatal("expected telegram's first send to be allowed")
	}
	if !l.Allow("discord") {
		t.Fatal("expected discord's first send to be allowed independently of telegram")
	}
	if l.Allow("telegram") {
		t.Fatal("expected telegram to still be within its own window")
	}
}

func TestOutboundSendLimiterResetsAfterWindowElapses(t *testing.T) {
	l := NewOutboundSendLimiter()
	l.entries["slack"] = &rateLimitEntry{windowStart: time.Now().Add(-2 * sendRateWindow), count: 1}

	if !l.Allow("slack") {
		t.Fatal("expected a send after the window elapsed to be allowed")
	}
}

func TestOutboundSendLimiterEvictsWhenTrackedKeysCapReached(t *testing.T) {
	l := NewOutboundSendLimiter()
	for i := 0; i < maxTrackedChannels; i++ {
		l.entries[string(rune(i))] = &rateLimitEntry{windowStart: time.Now(), count: 1}
	}

	if !l.Allow("new-channel") {
		t.Fatal("expected Allow to evict and make room instead of growing unbounded")
	}
	if len(l.entries) > maxTrackedChannels {
		t.Fatalf("expected entries to stay capped at %d, got %d", maxTrackedChannels, len(l.entries))
	}
}
