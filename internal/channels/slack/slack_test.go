package slack

import "testing"

func TestParseSlackChatKey(t *testing.T) {
	tests := []struct {
		key         string
		wantChannel string
		wantThread  string
	}{
		{"C123", "C123", ""},
		{"C123:1700000000.000100", "C123", "1700000000.000100"},
	}
	for _, tt := range tests {
		channel, thread := parseSlackChatKey(tt.key)
		if channel != tt.wantChannel || thread != tt.wantThread {
			t.Errorf("parseSlackChatKey(%q) = (%q, %q), want (%q, %q)",
				tt.key, channel, thread, tt.wantChannel, tt.wantThread)
		}
	}
}

func TestMentionsBot(t *testing.T) {
	tests := []struct {
		text      string
		botUserID string
		want      bool
	}{
		{"hey <@U123> can you help", "U123", true},
		{"hey @someone else", "U123", false},
		{"<@U999> ping", "U123", false},
		{"no mention here", "", false},
	}
	for _, tt := range tests {
		if got := mentionsBot(tt.text, tt.botUserID); got != tt.want {
			t.Errorf("mentionsBot(%q, %q) = %v, want %v", tt.text, tt.botUserID, got, tt.want)
		}
	}
}
