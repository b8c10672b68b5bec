// Package providers implements the uniform streaming LLM interface (spec
// §4.3): one Provider per vendor, a shared Message/ChatRequest/ChatResponse
// shape, error classification, and retry.
package providers

import (
	"context"
	"time"
)

// Provider is the interface every LLM vendor adapter implements.
type Provider interface {
	// Chat sends messages to the LLM and returns the aggregated response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback,
	// returning the final aggregated response once the stream ends. The
	// sequence of chunks delivered to onChunk is finite and not
	// restartable; cancelling ctx releases the underlying transport.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages []Message              `json:"messages"`
	Tools    []ToolDefinition       `json:"tools,omitempty"`
	Model    string                 `json:"model,omitempty"`
	MaxTokens int                   `json:"max_tokens,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the aggregated result of a Chat/ChatStream call.
type ChatResponse struct {
	Content             string     `json:"content"`
	Thinking            string     `json:"thinking,omitempty"`
	ToolCalls           []ToolCall `json:"tool_calls,omitempty"`
	FinishReason        string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage               *Usage     `json:"usage,omitempty"`
	RawAssistantContent []byte     `json:"-"`
}

// StreamChunk is one element of the provider's chunk sequence (spec §4.3's
// ProviderChunk sum type: TextDelta, ToolCall(batch), Done, Error). Exactly
// one of Content/Thinking/ToolCalls/Err/Done is meaningful per chunk.
type StreamChunk struct {
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Err       error      `json:"-"`
	Done      bool       `json:"done,omitempty"`
}

// ImageContent is a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Message is one conversation turn, matching spec §3's Message data model.
type Message struct {
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	Images     []ImageContent `json:"images,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	// RawAssistantContent preserves a vendor's raw content-block encoding
	// (e.g. Anthropic thinking blocks with signatures) so it can be
	// replayed verbatim on the next request instead of being lossily
	// reconstructed from Content/ToolCalls alone.
	RawAssistantContent []byte `json:"raw_assistant_content,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON-schema description of a function tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for a single call.
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	ThinkingTokens      int `json:"thinking_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}
