package agent

import "strings"

// thinkingOpenTags and thinkingCloseTags are the reasoning-block
// delimiters recognized across vendors, matching the tags sanitize.go
// strips from already-complete text. The extractor recognizes them
// streaming, across chunk boundaries, so thinking deltas can be routed
// to event.agent.thinking as they arrive instead of only after the
// fact.
var (
	thinkingOpenTags  = []string{"<thinking>", "<think>", "<thought>", "<antthinking>"}
	thinkingCloseTags = []string{"</thinking>", "</think>", "</thought>", "</antthinking>"}
)

// extractorState is the Thinking Extractor's 4-state machine (spec §3/§9).
type extractorState int

const (
	stateOutside extractorState = iota
	statePartialOpen
	stateInside
	statePartialClose
)

// ThinkingExtractor splits a stream of raw text deltas into thinking
// content and regular content, recognizing open/close tags that may be
// split across chunk boundaries. Once a tag delimiter is recognized,
// thinking deltas are never retracted (spec §9's open-question
// decision): a chunk already emitted as thinking stays thinking even if
// a later chunk reveals the open tag was a false match — in practice
// this cannot happen because a match only commits once the full tag is
// seen.
type ThinkingExtractor struct {
	state   extractorState
	partial string // buffered text that might be a split tag
}

// NewThinkingExtractor constructs an extractor starting OUTSIDE any
// thinking block.
func NewThinkingExtractor() *ThinkingExtractor {
	return &ThinkingExtractor{state: stateOutside}
}

// Feed processes one raw text delta and returns the portion that is
// regular content and the portion that is thinking content. Either may
// be empty. Call Feed for every delta in arrival order; do not reorder
// or batch deltas, since tag recognition depends on byte order.
func (e *ThinkingExtractor) Feed(delta string) (content, thinking string) {
	buf := e.partial + delta
	e.partial = ""

	for buf != "" {
		switch e.state {
		case stateOutside:
			idx, tag := firstTagIndex(buf, thinkingOpenTags)
			if idx < 0 {
				// Check whether the tail of buf could be the start of a tag.
				if n := partialTagSuffixLen(buf, thinkingOpenTags); n > 0 {
					content += buf[:len(buf)-n]
					e.partial = buf[len(buf)-n:]
					buf = ""
					continue
				}
				content += buf
				buf = ""
				continue
			}
			content += buf[:idx]
			buf = buf[idx+len(tag):]
			e.state = stateInside

		case stateInside:
			idx, tag := firstTagIndex(buf, thinkingCloseTags)
			if idx < 0 {
				if n := partialTagSuffixLen(buf, thinkingCloseTags); n > 0 {
					thinking += buf[:len(buf)-n]
					e.partial = buf[len(buf)-n:]
					buf = ""
					continue
				}
				thinking += buf
				buf = ""
				continue
			}
			thinking += buf[:idx]
			buf = buf[idx+len(tag):]
			e.state = stateOutside

		default:
			buf = ""
		}
	}
	return content, thinking
}

// Flush returns any buffered partial-tag text as content, for use at
// end of stream when a dangling partial match never completed.
func (e *ThinkingExtractor) Flush() string {
	rest := e.partial
	e.partial = ""
	return rest
}

// InThinkingBlock reports whether the extractor is currently inside a
// thinking block (state INSIDE or PARTIAL_CLOSE, collapsed here since
// Feed resolves PARTIAL_CLOSE internally before returning).
func (e *ThinkingExtractor) InThinkingBlock() bool {
	return e.state == stateInside || e.state == statePartialClose
}

func firstTagIndex(s string, tags []string) (int, string) {
	best := -1
	var bestTag string
	for _, tag := range tags {
		if idx := strings.Index(s, tag); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestTag = tag
		}
	}
	return best, bestTag
}

// partialTagSuffixLen returns the length of the longest suffix of s that
// is a proper prefix of some tag (i.e. might become a full tag once more
// text arrives).
func partialTagSuffixLen(s string, tags []string) int {
	maxLen := 0
	for _, tag := range tags {
		limit := len(tag) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for n := limit; n > 0; n-- {
			if strings.HasSuffix(s, tag[:n]) {
				if n > maxLen {
					maxLen = n
				}
				break
			}
		}
	}
	return maxLen
}
