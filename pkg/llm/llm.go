// Package llm provides a provider-agnostic capability for invoking chat
// models with optional tool binding and structured output. Three adapters
// are included (OpenAI, Anthropic, Google); callers select one by provider
// key via New, or resolve per-prompt clients through the Registry.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// InputTokenDetails breaks down prompt tokens by cache behavior.
type InputTokenDetails struct {
	CacheRead     int `json:"cache_read"`
	CacheCreation int `json:"cache_creation"`
}

// OutputTokenDetails breaks down completion tokens.
type OutputTokenDetails struct {
	Reasoning int `json:"reasoning"`
}

// Usage reports token consumption for a single model call.
type Usage struct {
	InputTokens        int                 `json:"input_tokens"`
	OutputTokens       int                 `json:"output_tokens"`
	TotalTokens        int                 `json:"total_tokens"`
	ModelName          string              `json:"model_name"`
	InputTokenDetails  *InputTokenDetails  `json:"input_token_details,omitempty"`
	OutputTokenDetails *OutputTokenDetails `json:"output_token_details,omitempty"`
}

// Message is the provider-agnostic conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// Usage carries the provider-reported token metadata for assistant
	// messages produced by Invoke.
	Usage *Usage `json:"usage,omitempty"`
}

// ToolDefinition describes a tool available to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Schema declares the shape of a structured output. Parameters is a JSON
// Schema object the provider is instructed to conform to.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the input to Invoke.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
}

// Response is the result of Invoke.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Client is the provider-agnostic model capability.
type Client interface {
	// Invoke sends a conversation (optionally with bound tools) and returns
	// the assistant response with usage metadata.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// InvokeStructured sends a single prompt and instructs the provider to
	// return a value matching schema, unmarshaled into out.
	InvokeStructured(ctx context.Context, prompt string, schema Schema, out any) (Usage, error)

	// ModelName returns the configured model identifier.
	ModelName() string
}

// InvocationError wraps a remote provider failure. It is not auto-retried;
// the caller decides how to recover.
type InvocationError struct {
	Provider string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s invocation failed: %v", e.Provider, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ExtractText normalizes provider response content into a single string.
// Providers return either a plain string or a list of content blocks; block
// lists are joined on their "text" fields.
func ExtractText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, "")
	case []any:
		var b strings.Builder
		for _, block := range v {
			switch bv := block.(type) {
			case string:
				b.WriteString(bv)
			case map[string]any:
				if text, ok := bv["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// New creates a Client for the given provider key.
// Supported providers: "openai", "anthropic", "google-genai" (alias "google").
func New(provider, model, apiKey string) (Client, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(model, apiKey)
	case "anthropic":
		return NewAnthropicClient(model, apiKey)
	case "google-genai", "google":
		return NewGoogleClient(model, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q: use 'openai', 'anthropic', or 'google-genai'", provider)
	}
}
