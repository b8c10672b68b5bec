package providers

// Option keys recognized in ChatRequest.Options across vendor adapters.
// Kept as plain string constants rather than a typed Options struct so
// vendor-specific extensions can be passed through without widening the
// shared ChatRequest shape.
const (
	OptMaxTokens     = "max_tokens"
	OptTemperature   = "temperature"
	OptThinkingLevel = "thinking_level" // "off" | "low" | "medium" | "high"
)
