package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/titanous/json5"
)

// loadIncludes reads the JSON5 document at path and recursively resolves
// any `@include` key (spec §6: a string or array of paths, deep-merged
// into the including document with full-replace on arrays). seen tracks
// the include chain by absolute path so a cycle is reported as an error
// rather than looping forever. Returns the fully merged document as
// plain JSON bytes (re-marshaled, so the caller's final decode doesn't
// need JSON5 again).
func loadIncludes(path string, seen map[string]bool) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("config: circular @include at %s", path)
	}
	seen[abs] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json5.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	includes, ok := doc["@include"]
	delete(doc, "@include")
	if !ok {
		return json.Marshal(doc)
	}

	var paths []string
	switch v := includes.(type) {
	case string:
		paths = []string{v}
	case []interface{}:
		for _, p := range v {
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
	default:
		return nil, fmt.Errorf("config: %s: @include must be a string or array of strings", path)
	}

	base := filepath.Dir(path)
	merged := map[string]interface{}{}
	for _, inc := range paths {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(base, incPath)
		}
		incData, err := loadIncludes(incPath, seen)
		if err != nil {
			return nil, err
		}
		var incDoc map[string]interface{}
		if err := json.Unmarshal(incData, &incDoc); err != nil {
			return nil, err
		}
		deepMerge(merged, incDoc)
	}
	deepMerge(merged, doc)
	return json.Marshal(merged)
}

// deepMerge merges src into dst in place: nested objects merge key by
// key, everything else (including arrays) is a full replace.
func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcObj, ok := v.(map[string]interface{}); ok {
			if dstObj, ok := dst[k].(map[string]interface{}); ok {
				deepMerge(dstObj, srcObj)
				continue
			}
		}
		dst[k] = v
	}
}

// envVarPattern matches ${VAR_NAME} references; escapePattern matches
// the $${VAR_NAME} escape that expandEnv turns back into a literal
// ${VAR_NAME} without env lookup.
var (
	envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	escapePattern = regexp.MustCompile(`\$\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// expandEnv substitutes every ${VAR_NAME} in data with the process
// environment value (spec §6); a missing variable is a fatal config
// error naming the offending token. $${VAR_NAME} escapes to the literal
// ${VAR_NAME} without lookup.
func expandEnv(data []byte) ([]byte, error) {
	const placeholder = "\x00ESCAPED_DOLLAR\x00"
	protected := escapePattern.ReplaceAll(data, []byte(placeholder+"{$1}"))

	var missing string
	substituted := envVarPattern.ReplaceAllFunc(protected, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(name))
		if !ok {
			missing = string(name)
			return match
		}
		return []byte(val)
	})
	if missing != "" {
		return nil, fmt.Errorf("config: missing required environment variable %q referenced via ${%s}", missing, missing)
	}

	restored := regexp.MustCompile(regexp.QuoteMeta(placeholder)).ReplaceAll(substituted, []byte("$$"))
	return restored, nil
}
