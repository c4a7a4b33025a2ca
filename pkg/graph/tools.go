package graph

import "github.com/growthlab/askatlas/pkg/llm"

// ToolArgsSchema is the argument schema shared by all three tools.
func ToolArgsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The specific question to answer with this tool.",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Broader user intent or technical constraints to carry into the tool.",
			},
		},
		"required": []any{"question"},
	}
}

// FirstToolCallArgs reads the question and context from the first tool call
// of the last assistant message. The remaining calls are returned so format
// nodes can reject them individually.
func FirstToolCallArgs(st *State) (question, context string, calls []llm.ToolCall) {
	calls = st.PendingToolCalls()
	if len(calls) == 0 {
		return "", "", nil
	}
	args := calls[0].Args
	if q, ok := args["question"].(string); ok {
		question = q
	}
	if c, ok := args["context"].(string); ok {
		context = c
	}
	return question, context, calls
}
