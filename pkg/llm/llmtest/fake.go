// Package llmtest provides a scripted fake LLM client for tests.
// Modeled after the repository's end-to-end mock LLM: callers enqueue
// responses and the fake replays them in order, recording every request.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/growthlab/askatlas/pkg/llm"
)

// FakeClient replays scripted responses. Safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// Responses are consumed front-to-back by Invoke.
	Responses []*llm.Response
	// StructuredValues are consumed front-to-back by InvokeStructured; each
	// value is marshaled to JSON and unmarshaled into the caller's target.
	StructuredValues []any
	// Err, when set, is returned by every call.
	Err error
	// Model is reported by ModelName and stamped into usage.
	Model string

	// Recorded inputs.
	Requests          []*llm.Request
	StructuredPrompts []string
}

// NewFakeClient creates a fake with the given model name.
func NewFakeClient(model string) *FakeClient {
	if model == "" {
		model = "fake-model"
	}
	return &FakeClient{Model: model}
}

// Enqueue appends a scripted Invoke response.
func (f *FakeClient) Enqueue(resp *llm.Response) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, resp)
	return f
}

// EnqueueText appends a plain-text assistant response.
func (f *FakeClient) EnqueueText(text string) *FakeClient {
	return f.Enqueue(&llm.Response{
		Content: text,
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, ModelName: f.Model},
	})
}

// EnqueueToolCall appends an assistant response requesting one tool call.
func (f *FakeClient) EnqueueToolCall(id, name string, args map[string]any) *FakeClient {
	return f.Enqueue(&llm.Response{
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Args: args}},
		Usage:     llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, ModelName: f.Model},
	})
}

// EnqueueStructured appends a scripted structured-output value.
func (f *FakeClient) EnqueueStructured(v any) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StructuredValues = append(f.StructuredValues, v)
	return f
}

// Invoke pops and returns the next scripted response.
func (f *FakeClient) Invoke(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Responses) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted responses left (got %d requests)", len(f.Requests))
	}
	resp := f.Responses[0]
	f.Responses = f.Responses[1:]
	if resp.Usage.ModelName == "" {
		resp.Usage.ModelName = f.Model
	}
	return resp, nil
}

// InvokeStructured pops the next scripted value into out.
func (f *FakeClient) InvokeStructured(_ context.Context, prompt string, _ llm.Schema, out any) (llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StructuredPrompts = append(f.StructuredPrompts, prompt)
	usage := llm.Usage{InputTokens: 8, OutputTokens: 4, TotalTokens: 12, ModelName: f.Model}
	if f.Err != nil {
		return llm.Usage{}, f.Err
	}
	if len(f.StructuredValues) == 0 {
		return llm.Usage{}, fmt.Errorf("llmtest: no scripted structured values left")
	}
	v := f.StructuredValues[0]
	f.StructuredValues = f.StructuredValues[1:]
	data, err := json.Marshal(v)
	if err != nil {
		return usage, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return usage, err
	}
	return usage, nil
}

// ModelName returns the configured fake model name.
func (f *FakeClient) ModelName() string { return f.Model }
