package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthlab/askatlas/pkg/config"
	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/llm/llmtest"
	"github.com/growthlab/askatlas/pkg/usage"
)

type fakeBudget struct {
	used, max int
}

func (b *fakeBudget) Available() bool { return b.used < b.max }
func (b *fakeBudget) Used() int       { return b.used }
func (b *fakeBudget) Max() int        { return b.max }

func toolDefs() map[string]llm.ToolDefinition {
	return map[string]llm.ToolDefinition{
		ToolQuery:   {Name: ToolQuery, Description: "runs read-only SQL against the Atlas warehouse.", Parameters: ArgsSchema()},
		ToolGraphQL: {Name: ToolGraphQL, Description: "queries the Atlas GraphQL API for pre-computed metrics.", Parameters: ArgsSchema()},
		ToolDocs:    {Name: ToolDocs, Description: "retrieves methodology documentation.", Parameters: ArgsSchema()},
	}
}

func newTestAgent(t *testing.T, mode config.AgentMode, budget BudgetTracker, fake *llmtest.FakeClient) *Agent {
	t.Helper()
	reg, err := llm.NewRegistry(fake, fake, nil)
	require.NoError(t, err)
	a, err := New(Config{
		Registry:       reg,
		Mode:           mode,
		Tools:          toolDefs(),
		MaxUses:        5,
		TopKPerQuery:   15,
		SQLMaxYear:     2023,
		GraphQLMaxYear: 2022,
		Budget:         budget,
	})
	require.NoError(t, err)
	return a
}

func toolNames(defs []llm.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func TestToolSetByMode(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	budget := &fakeBudget{used: 0, max: 10}

	tests := []struct {
		mode config.AgentMode
		want []string
	}{
		{config.ModeAuto, []string{ToolQuery, ToolGraphQL, ToolDocs}},
		{config.ModeGraphQLSQL, []string{ToolQuery, ToolGraphQL, ToolDocs}},
		{config.ModeSQLOnly, []string{ToolQuery, ToolDocs}},
		{config.ModeGraphQLOnly, []string{ToolGraphQL, ToolDocs}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			a := newTestAgent(t, tt.mode, budget, fake)
			assert.Equal(t, tt.want, toolNames(a.ToolSet()))
		})
	}
}

func TestToolSetBudgetExhausted(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	budget := &fakeBudget{used: 10, max: 10}

	t.Run("graphql removed in dual mode", func(t *testing.T) {
		a := newTestAgent(t, config.ModeGraphQLSQL, budget, fake)
		assert.Equal(t, []string{ToolQuery, ToolDocs}, toolNames(a.ToolSet()))
	})

	t.Run("graphql removed even in graphql_only mode", func(t *testing.T) {
		a := newTestAgent(t, config.ModeGraphQLOnly, budget, fake)
		assert.Equal(t, []string{ToolDocs}, toolNames(a.ToolSet()))
	})

	t.Run("sql_only never offers graphql regardless of budget", func(t *testing.T) {
		a := newTestAgent(t, config.ModeSQLOnly, &fakeBudget{used: 0, max: 10}, fake)
		assert.NotContains(t, toolNames(a.ToolSet()), ToolGraphQL)
	})
}

func TestAgentNodeAppendsAssistantMessage(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueToolCall("call-1", ToolQuery, map[string]any{"question": "top exports?"})
	a := newTestAgent(t, config.ModeSQLOnly, nil, fake)

	st := &graph.State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Top US exports?"}}}
	update, err := a.Node().Run(context.Background(), st, usage.NewTimer(NodeName, NodeName))
	require.NoError(t, err)

	require.Len(t, update.Messages, 1)
	msg := update.Messages[0]
	assert.Equal(t, llm.RoleAssistant, msg.Role)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, ToolQuery, msg.ToolCalls[0].Name)
	require.Len(t, update.TokenUsage, 1)
	assert.Equal(t, NodeName, update.TokenUsage[0].Node)

	// The request carried the system prompt plus the conversation.
	require.Len(t, fake.Requests, 1)
	req := fake.Requests[0]
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Ask-Atlas")
	assert.Equal(t, []string{ToolQuery, ToolDocs}, toolNames(req.Tools))
}

func TestAgentSystemPromptIncludesBudgetStatus(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueText("answer")
	a := newTestAgent(t, config.ModeGraphQLSQL, &fakeBudget{used: 3, max: 10}, fake)

	st := &graph.State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Brazil profile?"}}}
	_, err := a.Node().Run(context.Background(), st, usage.NewTimer(NodeName, NodeName))
	require.NoError(t, err)

	system := fake.Requests[0].Messages[0].Content
	assert.Contains(t, system, "7 of 10")
	assert.Contains(t, system, "2023")
	assert.Contains(t, system, "2022")
}

func TestConcludeNodeBindsNoTools(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueText("final synthesis")
	a := newTestAgent(t, config.ModeAuto, nil, fake)

	st := &graph.State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}}}
	update, err := a.ConcludeNode().Run(context.Background(), st, usage.NewTimer(NodeName, NodeName))
	require.NoError(t, err)
	assert.Equal(t, "final synthesis", update.Messages[0].Content)
	assert.Empty(t, fake.Requests[0].Tools)

	last := fake.Requests[0].Messages[len(fake.Requests[0].Messages)-1]
	assert.Contains(t, last.Content, "final answer")
}

func TestAgentPropagatesLLMError(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.Err = &llm.InvocationError{Provider: "openai", Err: assert.AnError}
	a := newTestAgent(t, config.ModeAuto, nil, fake)

	st := &graph.State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}}}
	_, err := a.Node().Run(context.Background(), st, usage.NewTimer(NodeName, NodeName))
	require.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	reg, err := llm.NewRegistry(fake, fake, nil)
	require.NoError(t, err)

	_, err = New(Config{Registry: reg, Mode: "bogus", MaxUses: 5})
	assert.Error(t, err)

	_, err = New(Config{Registry: reg, Mode: config.ModeAuto, MaxUses: 0})
	assert.Error(t, err)

	_, err = New(Config{Mode: config.ModeAuto, MaxUses: 5})
	assert.Error(t, err)
}
