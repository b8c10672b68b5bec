package agent

import "testing"

func TestSanitizeAssistantContentStripsGarbledToolXML(t *testing.T) {
	out := SanitizeAssistantContent(`<function_calls><invoke name="echo"><parameter name="text">hi</parameter></invoke></function_calls>`)
	if out != "" {
		t.Fatalf("expected a response that is entirely garbled tool XML to be suppressed, got %q", out)
	}
}

func TestSanitizeAssistantContentStripsDowngradedToolCallText(t *testing.T) {
	in := "Here is the answer.\n\n[Tool Call: echo]\nArguments: {\"text\": \"hi\"}\n{\"ok\": true}\n\nDone."
	out := SanitizeAssistantContent(in)
	if out != "Here is the answer.\n\nDone." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentStripsThinkingTags(t *testing.T) {
	out := SanitizeAssistantContent("<thinking>internal reasoning</thinking>The answer is 4.")
	if out != "The answer is 4." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentStripsFinalTags(t *testing.T) {
	out := SanitizeAssistantContent("<final>The answer is 4.</final>")
	if out != "The answer is 4." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentStripsEchoedSystemMessage(t *testing.T) {
	in := "[System Message]\nStats: tokens=100\n\nHi there."
	out := SanitizeAssistantContent(in)
	if out != "Hi there." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentCollapsesConsecutiveDuplicateBlocks(t *testing.T) {
	out := SanitizeAssistantContent("Same paragraph.\n\nSame paragraph.\n\nDifferent one.")
	if out != "Same paragraph.\n\nDifferent one." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentStripsMediaPaths(t *testing.T) {
	out := SanitizeAssistantContent("Here's your file.\nMEDIA:/tmp/out.png")
	if out != "Here's your file." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSanitizeAssistantContentPassesThroughPlainText(t *testing.T) {
	out := SanitizeAssistantContent("just a normal reply")
	if out != "just a normal reply" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestIsSilentReplyMatchesExactToken(t *testing.T) {
	if !IsSilentReply("NO_REPLY") {
		t.Fatal("expected exact token match to be silent")
	}
	if !IsSilentReply("NO_REPLY.") {
		t.Fatal("expected token followed by punctuation to be silent")
	}
	if IsSilentReply("NO_REPLYING to this one") {
		t.Fatal("expected a word-char suffix after the token not to match")
	}
	if IsSilentReply("this message has content") {
		t.Fatal("expected ordinary text not to be treated as silent")
	}
	if IsSilentReply("") {
		t.Fatal("expected empty text not to be treated as silent")
	}
}
