package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	t.Run("plain string passes through", func(t *testing.T) {
		assert.Equal(t, "hello", ExtractText("hello"))
	})

	t.Run("nil yields empty string", func(t *testing.T) {
		assert.Equal(t, "", ExtractText(nil))
	})

	t.Run("block list joins text fields", func(t *testing.T) {
		content := []any{
			map[string]any{"type": "text", "text": "part one "},
			map[string]any{"type": "text", "text": "part two"},
		}
		assert.Equal(t, "part one part two", ExtractText(content))
	})

	t.Run("mixed block list skips non-text blocks", func(t *testing.T) {
		content := []any{
			map[string]any{"type": "tool_use", "name": "query_tool"},
			map[string]any{"type": "text", "text": "answer"},
			"raw string",
		}
		assert.Equal(t, "answerraw string", ExtractText(content))
	})
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New("cohere", "some-model", "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}

func TestNewRequiresAPIKey(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", "google-genai"} {
		t.Run(provider, func(t *testing.T) {
			_, err := New(provider, "some-model", "")
			require.Error(t, err)
		})
	}
}

func TestParseJSONArgs(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		args := parseJSONArgs(`{"question": "top exports?", "context": ""}`)
		assert.Equal(t, "top exports?", args["question"])
	})

	t.Run("invalid json preserved as raw", func(t *testing.T) {
		args := parseJSONArgs(`{broken`)
		assert.Equal(t, `{broken`, args["raw"])
	})

	t.Run("empty string yields empty map", func(t *testing.T) {
		assert.Empty(t, parseJSONArgs(""))
	})
}

func TestToGenaiSchemaConversion(t *testing.T) {
	schema := toGenaiSchema(map[string]any{
		"type":        "object",
		"description": "selection result",
		"properties": map[string]any{
			"indices": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
			"reason": map[string]any{"type": "string"},
		},
		"required": []any{"indices"},
	})
	require.NotNil(t, schema)
	assert.Len(t, schema.Properties, 2)
	require.Contains(t, schema.Properties, "indices")
	assert.Equal(t, []string{"indices"}, schema.Required)
	require.NotNil(t, schema.Properties["indices"].Items)
}
