package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema("notes", map[string]any{
		"status": map[string]any{"type": "string"},
		"facts":  map[string]any{"type": "array"},
	})
	assert.Equal(t, "notes", schema.Name)

	var doc struct {
		Type                 string         `json:"type"`
		Properties           map[string]any `json:"properties"`
		Required             []string       `json:"required"`
		AdditionalProperties bool           `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(schema.Raw, &doc))
	assert.Equal(t, "object", doc.Type)
	assert.Equal(t, []string{"facts", "status"}, doc.Required, "required list must be sorted and complete")
	assert.False(t, doc.AdditionalProperties)
	assert.Contains(t, doc.Properties, "status")
	assert.Contains(t, doc.Properties, "facts")
}
