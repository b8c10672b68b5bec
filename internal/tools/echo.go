package tools

import "context"

// EchoTool returns its input verbatim. Used to exercise the tool-dispatch
// path in tests and as a minimal example of the Tool interface.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Echo the given text back" }
func (t *EchoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string", "description": "text to echo"},
		},
		"required": []string{"text"},
	}
}

func (t *EchoTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	return NewResult(text)
}
