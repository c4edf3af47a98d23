package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SetField sets a dotted-path field ("telegram.botToken") in a raw config
// document. The value is parsed as JSON when it is valid JSON (numbers,
// booleans, arrays, quoted strings) and treated as a plain string otherwise.
// Intermediate objects are created as needed.
func SetField(doc map[string]any, dotted, value string) error {
	keys := strings.Split(dotted, ".")
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("invalid field path %q", dotted)
		}
	}

	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}

	m := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			if _, exists := m[k]; exists {
				return fmt.Errorf("%s is not an object", k)
			}
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = v
	return nil
}
