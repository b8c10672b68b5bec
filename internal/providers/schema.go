package providers

// CleanSchemaForProvider strips JSON-schema keywords a given vendor's tool
// schema validator rejects or ignores, so the Tool Abstraction (C4) can
// hand every provider the same json_schema without each tool author
// needing to special-case vendors. The table is intentionally small and
// additive: a new vendor quirk is a new case, not a rewrite.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	cleaned := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		cleaned[k] = v
	}

	switch provider {
	case "anthropic":
		// Anthropic's tool input_schema rejects "$schema" and "additionalProperties".
		delete(cleaned, "$schema")
		delete(cleaned, "additionalProperties")
	case "openai":
		delete(cleaned, "$schema")
	}

	if _, ok := cleaned["type"]; !ok {
		cleaned["type"] = "object"
	}
	return cleaned
}
