package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client via the OpenAI Chat Completions API.
type OpenAIClient struct {
	chat  *openai.Client
	model string
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(model, apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	return &OpenAIClient{chat: openai.NewClient(apiKey), model: model}, nil
}

// ModelName returns the configured model identifier.
func (c *OpenAIClient) ModelName() string { return c.model }

// Invoke sends the conversation and returns the assistant response.
func (c *OpenAIClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	request := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: encodeOpenAIMessages(req.Messages),
		Tools:    encodeOpenAITools(req.Tools),
	}

	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, &InvocationError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &InvocationError{Provider: "openai", Err: fmt.Errorf("response contained no choices")}
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:    choice.Message.Content,
		Usage:      openAIUsage(resp),
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseJSONArgs(tc.Function.Arguments),
		})
	}
	return out, nil
}

// InvokeStructured forces a function call matching schema and unmarshals the
// arguments into out.
func (c *OpenAIClient) InvokeStructured(ctx context.Context, prompt string, schema Schema, out any) (Usage, error) {
	params, err := json.Marshal(schema.Parameters)
	if err != nil {
		return Usage{}, fmt.Errorf("openai: marshal schema %s: %w", schema.Name, err)
	}

	request := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  json.RawMessage(params),
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: schema.Name},
		},
	}

	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return Usage{}, &InvocationError{Provider: "openai", Err: err}
	}
	usage := openAIUsage(resp)
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return usage, &InvocationError{Provider: "openai", Err: fmt.Errorf("structured output call returned no tool call")}
	}
	args := resp.Choices[0].Message.ToolCalls[0].Function.Arguments
	if err := json.Unmarshal([]byte(args), out); err != nil {
		return usage, &InvocationError{Provider: "openai", Err: fmt.Errorf("decode structured output: %w", err)}
	}
	return usage, nil
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			cm.Role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			cm.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		case RoleTool:
			cm.Role = openai.ChatMessageRoleTool
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.ToolName
		default:
			cm.Role = openai.ChatMessageRoleUser
		}
		result = append(result, cm)
	}
	return result
}

func encodeOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools
}

func openAIUsage(resp openai.ChatCompletionResponse) Usage {
	u := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		ModelName:    resp.Model,
	}
	if d := resp.Usage.PromptTokensDetails; d != nil && d.CachedTokens > 0 {
		u.InputTokenDetails = &InputTokenDetails{CacheRead: d.CachedTokens}
	}
	if d := resp.Usage.CompletionTokensDetails; d != nil && d.ReasoningTokens > 0 {
		u.OutputTokenDetails = &OutputTokenDetails{Reasoning: d.ReasoningTokens}
	}
	return u
}

func parseJSONArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}
