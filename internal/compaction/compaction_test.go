package compaction

import (
	"testing"

	"github.com/relaycrew/gatewaycore/internal/providers"
)

func msg(role, content string) providers.Message {
	return providers.Message{Role: role, Content: content}
}

func TestCheckContextThresholds(t *testing.T) {
	big := make([]providers.Message, 0)
	for i := 0; i < 60; i++ {
		big = append(big, msg("user", string(make([]byte, 8000))))
	}
	res := CheckContext(big, "gpt-4o-mini")
	if !res.NearLimit || !res.ShouldCompress {
		t.Fatalf("expected near-limit and should-compress for large history, got %+v", res)
	}

	small := []providers.Message{msg("user", "hi")}
	res = CheckContext(small, "gpt-4o-mini")
	if res.NearLimit || res.ShouldCompress {
		t.Fatalf("small history should not trip thresholds, got %+v", res)
	}
}

func TestUnknownModelDefaultsTo128k(t *testing.T) {
	if got := ContextWindow("some-unreleased-model"); got != defaultContextWindow {
		t.Fatalf("expected default window 128000, got %d", got)
	}
}

func TestKeepRecentPreservesSystemMessage(t *testing.T) {
	msgs := []providers.Message{msg("system", "seed")}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg("user", "turn"))
	}
	out, res := Compact(msgs, "gpt-4o", StrategyKeepRecent, 3)
	if out[0].Role != "system" {
		t.Fatalf("expected system message preserved at front, got %v", out[0])
	}
	if res.AfterCount != 4 {
		t.Fatalf("expected 3 kept + system = 4, got %d", res.AfterCount)
	}
}

func TestKeepImportantPrefersSystemAndToolCalls(t *testing.T) {
	msgs := []providers.Message{
		msg("system", "seed"),
		msg("user", "q1"),
		{Role: "assistant", ToolCalls: []providers.ToolCall{{Name: "search"}}},
		msg("tool", "result"),
		msg("user", "q2"),
	}
	out, res := Compact(msgs, "gpt-4o", StrategyKeepImportant, 3)
	if res.AfterCount != 3 {
		t.Fatalf("expected 3 messages kept, got %d", res.AfterCount)
	}
	if out[0].Role != "system" {
		t.Fatalf("expected system message retained, got %v", out[0])
	}
	// chronological order must be restored
	for i := 1; i < len(out); i++ {
		if out[i-1].Timestamp.After(out[i].Timestamp) && !out[i].Timestamp.IsZero() {
			t.Fatalf("expected chronological order restored")
		}
	}
}

func TestCompactionMonotonicallyReducesOrPreservesTokenCount(t *testing.T) {
	msgs := []providers.Message{msg("system", "seed")}
	for i := 0; i < 20; i++ {
		msgs = append(msgs, msg("user", "some reasonably long turn of conversation text"))
	}
	for _, strat := range []Strategy{StrategyKeepRecent, StrategyKeepImportant, StrategySlidingWindow} {
		_, res := Compact(msgs, "gpt-4o", strat, 5)
		if res.AfterTokens > res.BeforeTokens {
			t.Fatalf("%s: compaction should never increase token count: before=%d after=%d", strat, res.BeforeTokens, res.AfterTokens)
		}
	}
}
