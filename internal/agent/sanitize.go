// Package agent implements the Agent Runtime turn state machine (spec
// §4.9). This file holds the assistant-response sanitization pipeline
// applied before a response is saved to the session and sent to a
// channel. Different provider backends leak different artifacts into
// plain-text content instead of proper structured tool calls or
// metadata — this pipeline scrubs the known shapes so a channel never
// shows a user raw protocol debris.
package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// sanitizeStage is one scrubbing pass in the pipeline. A stage returning
// "" signals the whole response should be suppressed (e.g. a message
// that was nothing but a leaked tool-call fragment).
type sanitizeStage func(string) string

// sanitizePipeline runs in order; each stage sees the previous stage's
// output, not the raw response.
var sanitizePipeline = []sanitizeStage{
	stripGarbledToolXML,
	stripDowngradedToolCallText,
	stripThinkingTags,
	stripFinalTags,
	stripEchoedSystemMessages,
	collapseConsecutiveDuplicateBlocks,
	stripMediaPaths,
	stripLeadingBlankLines,
}

// SanitizeAssistantContent runs the full scrubbing pipeline over an
// assistant turn's content before it is persisted to the session or
// handed to a channel for delivery.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}

	original := content
	for _, stage := range sanitizePipeline {
		content = stage(content)
		if content == "" {
			return ""
		}
	}
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant content",
			"original_len", len(original),
			"cleaned_len", len(content),
		)
	}

	return content
}

// --- garbled tool-call XML ---

// garbledToolXMLPattern matches XML-like tool-call fragments that some
// provider backends (DeepSeek, GLM, Minimax) emit as plain text instead
// of a structured tool call when their function-calling support
// degrades under load or an unusual prompt shape.
var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|functioninvoke|invoke|invfunction_calls|tool_call|tool_use|parameter|minimax:tool_call)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"invfunction_calls",
	"functioninvoke",
	"<parameter name=",
	"</parameter",
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<minimax:tool_call",
}

func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	found := false
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, strings.ToLower(ind)) {
			found = true
			break
		}
	}
	if !found {
		return content
	}

	cleaned := strings.TrimSpace(garbledToolXMLPattern.ReplaceAllString(content, ""))

	// Once leaked tool-call markup is detected the whole response is
	// treated as unreliable and dropped, even when text remains after the
	// tags are removed; cleaned is only measured for the log line.
	slog.Warn("stripped garbled tool call response",
		"original_len", len(content),
		"remaining_len", len(cleaned),
	)
	return ""
}

// --- downgraded tool call text ---

// stripDowngradedToolCallText removes "[Tool Call: ...]", "[Tool Result
// ...]" and "[Historical context: ...]" blocks a provider sometimes
// echoes back as text when it replays prior tool activity inline
// instead of keeping it out of the visible transcript. Scans
// line-by-line since Go's regexp has no lookahead to bound a
// variable-length block cleanly.
func stripDowngradedToolCallText(content string) string {
	if !strings.Contains(content, "[Tool Call:") &&
		!strings.Contains(content, "[Tool Result") &&
		!strings.Contains(content, "[Historical context:") {
		return content
	}

	lines := strings.Split(content, "\n")
	var kept []string
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "[Tool Call:") ||
			strings.HasPrefix(trimmed, "[Tool Result") ||
			strings.HasPrefix(trimmed, "[Historical context:") {
			inBlock = true
			continue
		}

		if inBlock {
			if trimmed == "" || strings.HasPrefix(trimmed, "Arguments:") ||
				strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "}") {
				continue
			}
			inBlock = false
		}

		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// --- thinking/reasoning tags ---

// thinkingTagPatterns strips reasoning that a provider inlines into
// content instead of a separate thinking/reasoning channel. Go's
// regexp lacks backreferences, so open/close tag pairs are listed
// explicitly rather than matched with one generic pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	regexp.MustCompile(`(?is)<antThinking>.*?</antThinking>`),
	regexp.MustCompile(`(?is)<antthinking>.*?</antthinking>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") &&
		!strings.Contains(lower, "<antthinking") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// --- <final> tags ---

// finalTagPattern matches the wrapper tag some prompt templates ask a
// model to emit around its user-facing answer; the wrapper itself is
// never meant to reach the user, only the content inside it.
var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

// --- echoed system-message blocks ---

// stripEchoedSystemMessages removes "[System Message] ..." blocks a
// model occasionally echoes back verbatim from its own prompt context.
func stripEchoedSystemMessages(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}

	lines := strings.Split(content, "\n")
	var kept []string
	inBlock := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[System Message]") {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.TrimSpace(line) == "" {
				inBlock = false
			}
			continue
		}
		kept = append(kept, line)
	}

	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))
	if cleaned != strings.TrimSpace(content) {
		slog.Warn("stripped echoed system message block from assistant response",
			"original_len", len(content),
			"cleaned_len", len(cleaned),
		)
	}
	return cleaned
}

// --- consecutive duplicate blocks ---

// collapseConsecutiveDuplicateBlocks drops a paragraph that is an exact
// repeat of the one immediately before it — a streaming retry artifact
// where a provider resends the same block twice in one response.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}

	collapsed := strings.Join(kept, "\n\n")
	if collapsed != content {
		slog.Debug("collapsed duplicate blocks",
			"original_blocks", len(blocks),
			"result_blocks", len(kept),
		)
	}
	return collapsed
}

// --- MEDIA: path markers ---

// stripMediaPaths removes "MEDIA:<path>" and "[[audio_as_voice]]"
// marker lines that tool results leave in the assistant's content;
// media is delivered to the channel separately via
// OutboundMessage.Media, never as inline text.
func stripMediaPaths(content string) string {
	if !strings.Contains(content, "MEDIA:") {
		return content
	}
	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "MEDIA:") || strings.HasPrefix(trimmed, "[[audio_as_voice]]") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// --- leading blank lines ---

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(content string) string {
	return leadingBlankLinesPattern.ReplaceAllString(content, "")
}

// --- silent-reply detection ---

// silentReplyToken is the sentinel an agent emits to mean "say
// nothing" — used by channels that want the model able to decide a
// message doesn't warrant a reply (e.g. a muted group chat).
const silentReplyToken = "NO_REPLY"

// IsSilentReply reports whether text is (or is bookended by) the
// silent-reply sentinel, so the caller can suppress delivery entirely
// rather than send an empty or token-laden message.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == silentReplyToken {
		return true
	}
	if strings.HasPrefix(trimmed, silentReplyToken) {
		rest := trimmed[len(silentReplyToken):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, silentReplyToken) {
		before := trimmed[:len(trimmed)-len(silentReplyToken)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
