package llm

import (
	"encoding/json"
	"sort"
)

// Schema is the JSON Schema document a generation reply must satisfy.
// The backend enforces it through response_format; the client enforces
// it again by strict-decoding the reply into the caller's type.
type Schema struct {
	Name string
	Raw  json.RawMessage
}

// ObjectSchema builds a strict object schema: every property required,
// additional properties rejected, as the backend's strict mode demands.
func ObjectSchema(name string, properties map[string]any) Schema {
	required := make([]string, 0, len(properties))
	for k := range properties {
		required = append(required, k)
	}
	sort.Strings(required)

	raw, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	})
	return Schema{Name: name, Raw: raw}
}
