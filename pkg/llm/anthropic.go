package llm

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens caps completion length; the Messages API
// requires an explicit value.
const anthropicDefaultMaxTokens = 8192

// AnthropicClient implements Client via the Anthropic Messages API.
type AnthropicClient struct {
	msg   *sdk.MessageService
	model string
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(model, apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{msg: &ac.Messages, model: model}, nil
}

// ModelName returns the configured model identifier.
func (c *AnthropicClient) ModelName() string { return c.model }

// Invoke sends the conversation and returns the assistant response.
func (c *AnthropicClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	msgs, system := encodeAnthropicMessages(req.Messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := encodeAnthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, &InvocationError{Provider: "anthropic", Err: err}
	}
	return translateAnthropicResponse(msg), nil
}

// InvokeStructured forces a tool_use block matching schema and unmarshals
// its input into out.
func (c *AnthropicClient) InvokeStructured(ctx context.Context, prompt string, schema Schema, out any) (Usage, error) {
	toolParam := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema.Parameters}, schema.Name)
	if toolParam.OfTool != nil && schema.Description != "" {
		toolParam.OfTool.Description = sdk.String(schema.Description)
	}
	choice := sdk.ToolChoiceParamOfTool(schema.Name)

	params := sdk.MessageNewParams{
		Model:      sdk.Model(c.model),
		MaxTokens:  anthropicDefaultMaxTokens,
		Messages:   []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Tools:      []sdk.ToolUnionParam{toolParam},
		ToolChoice: choice,
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Usage{}, &InvocationError{Provider: "anthropic", Err: err}
	}
	resp := translateAnthropicResponse(msg)
	for _, block := range msg.Content {
		if block.Type == "tool_use" {
			if err := json.Unmarshal(block.Input, out); err != nil {
				return resp.Usage, &InvocationError{Provider: "anthropic", Err: fmt.Errorf("decode structured output: %w", err)}
			}
			return resp.Usage, nil
		}
	}
	return resp.Usage, &InvocationError{Provider: "anthropic", Err: fmt.Errorf("structured output call returned no tool_use block")}
}

func encodeAnthropicMessages(msgs []Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return conversation, system
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.Parameters}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools
}

func translateAnthropicResponse(msg *sdk.Message) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			ModelName:    string(msg.Model),
		},
	}
	if msg.Usage.CacheReadInputTokens > 0 || msg.Usage.CacheCreationInputTokens > 0 {
		resp.Usage.InputTokenDetails = &InputTokenDetails{
			CacheRead:     int(msg.Usage.CacheReadInputTokens),
			CacheCreation: int(msg.Usage.CacheCreationInputTokens),
		}
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(block.Input, &args); err != nil {
				args = map[string]any{"raw": string(block.Input)}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return resp
}
