package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient implements Client via the Google Gen AI SDK.
type GoogleClient struct {
	client *genai.Client
	model  string
}

// NewGoogleClient creates a Gemini-backed client.
func NewGoogleClient(model, apiKey string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("google: model is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleClient{client: client, model: model}, nil
}

// ModelName returns the configured model identifier.
func (c *GoogleClient) ModelName() string { return c.model }

// Invoke sends the conversation and returns the assistant response.
func (c *GoogleClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	contents, system := encodeGoogleMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != nil {
		config.SystemInstruction = system
	}
	if tools := encodeGoogleTools(req.Tools); len(tools) > 0 {
		config.Tools = tools
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, &InvocationError{Provider: "google", Err: err}
	}
	return translateGoogleResponse(resp, c.model)
}

// InvokeStructured requests a JSON response conforming to schema and
// unmarshals it into out.
func (c *GoogleClient) InvokeStructured(ctx context.Context, prompt string, schema Schema, out any) (Usage, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(schema.Parameters),
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return Usage{}, &InvocationError{Provider: "google", Err: err}
	}
	translated, err := translateGoogleResponse(resp, c.model)
	if err != nil {
		return Usage{}, err
	}
	if translated.Content == "" {
		return translated.Usage, &InvocationError{Provider: "google", Err: fmt.Errorf("structured output call returned no text")}
	}
	if err := json.Unmarshal([]byte(translated.Content), out); err != nil {
		return translated.Usage, &InvocationError{Provider: "google", Err: fmt.Errorf("decode structured output: %w", err)}
	}
	return translated.Usage, nil
}

func encodeGoogleMessages(msgs []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.ToolName,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, system
}

func encodeGoogleTools(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGenaiSchema(def.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGenaiSchema converts a JSON Schema object into the SDK's typed schema.
// Unknown keys are ignored.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "array":
			s.Type = genai.TypeArray
		case "string":
			s.Type = genai.TypeString
		case "integer":
			s.Type = genai.TypeInteger
		case "number":
			s.Type = genai.TypeNumber
		case "boolean":
			s.Type = genai.TypeBoolean
		}
	}
	if d, ok := schema["description"].(string); ok {
		s.Description = d
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(subMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func translateGoogleResponse(resp *genai.GenerateContentResponse, model string) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &InvocationError{Provider: "google", Err: fmt.Errorf("response contained no candidates")}
	}
	out := &Response{Usage: Usage{ModelName: model}}

	candidate := resp.Candidates[0]
	out.StopReason = string(candidate.FinishReason)
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", i)
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	if um := resp.UsageMetadata; um != nil {
		out.Usage.InputTokens = int(um.PromptTokenCount)
		out.Usage.OutputTokens = int(um.CandidatesTokenCount)
		out.Usage.TotalTokens = int(um.TotalTokenCount)
		if um.CachedContentTokenCount > 0 {
			out.Usage.InputTokenDetails = &InputTokenDetails{CacheRead: int(um.CachedContentTokenCount)}
		}
		if um.ThoughtsTokenCount > 0 {
			out.Usage.OutputTokenDetails = &OutputTokenDetails{Reasoning: int(um.ThoughtsTokenCount)}
		}
	}
	return out, nil
}
