package genai

import (
	"encoding/json"

	mcpschema "github.com/google/jsonschema-go/jsonschema"
)

// toSchemaMap converts a discovered capability schema into the generic map
// form genkit's tool registry expects. Both sides serialize standard JSON
// Schema, so the conversion is a marshal round-trip. Returns nil when no
// schema exists or the round-trip fails; callers fall back to a generic
// object input.
func toSchemaMap(s *mcpschema.Schema) map[string]any {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
