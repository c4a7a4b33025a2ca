// Package agent implements the tool-selecting agent node: a single LLM
// invocation that, given the conversation and the tool set allowed by the
// operating mode, either produces a final user-facing answer or emits tool
// calls for the executor to route.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthlab/askatlas/pkg/config"
	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/prompts"
	"github.com/growthlab/askatlas/pkg/usage"
)

// NodeName identifies the agent node in stream events and accounting.
const NodeName = "agent"

// Tool names as exposed to the LLM.
const (
	ToolQuery   = "query_tool"
	ToolGraphQL = "atlas_graphql"
	ToolDocs    = "docs_tool"
)

// BudgetTracker reports the process-wide GraphQL request budget. When the
// budget is exhausted the GraphQL tool is withheld from the model.
type BudgetTracker interface {
	Available() bool
	Used() int
	Max() int
}

// Config assembles the agent node.
type Config struct {
	Registry *llm.Registry
	Mode     config.AgentMode

	// Tool definitions by name; the mode decides which are offered.
	Tools map[string]llm.ToolDefinition

	MaxUses        int
	TopKPerQuery   int
	SQLMaxYear     int
	GraphQLMaxYear int

	// Budget is optional; nil means the GraphQL budget is never consulted.
	Budget BudgetTracker
}

// Agent is the tool-selecting agent node.
type Agent struct {
	cfg Config
}

// New validates the configuration and builds the agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent requires an LLM registry")
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("agent mode %q is invalid", cfg.Mode)
	}
	if cfg.MaxUses <= 0 {
		return nil, fmt.Errorf("agent requires a positive MaxUses")
	}
	return &Agent{cfg: cfg}, nil
}

// Node returns the tool-bound agent node for the executor.
func (a *Agent) Node() graph.Node {
	return graph.Node{
		Name:  NodeName,
		Label: "Deciding next step",
		Run: func(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
			return a.invoke(ctx, st, t, true)
		},
	}
}

// ConcludeNode returns the agent invoked without tools, forcing a final
// text answer. The executor uses it when the iteration cap is reached.
func (a *Agent) ConcludeNode() graph.Node {
	return graph.Node{
		Name:  NodeName,
		Label: "Writing final answer",
		Run: func(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
			return a.invoke(ctx, st, t, false)
		},
	}
}

// ToolSet returns the tool definitions offered to the model under the
// current mode and budget. The GraphQL tool is removed whenever the budget
// reports unavailable, regardless of mode.
func (a *Agent) ToolSet() []llm.ToolDefinition {
	var names []string
	switch a.cfg.Mode {
	case config.ModeSQLOnly:
		names = []string{ToolQuery, ToolDocs}
	case config.ModeGraphQLOnly:
		names = []string{ToolGraphQL, ToolDocs}
	default: // auto, graphql_sql
		names = []string{ToolQuery, ToolGraphQL, ToolDocs}
	}

	var defs []llm.ToolDefinition
	for _, name := range names {
		if name == ToolGraphQL && a.cfg.Budget != nil && !a.cfg.Budget.Available() {
			slog.Debug("GraphQL budget exhausted; withholding atlas_graphql")
			continue
		}
		if def, ok := a.cfg.Tools[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

func (a *Agent) invoke(ctx context.Context, st *graph.State, t *usage.Timer, withTools bool) (*graph.Update, error) {
	client, err := a.cfg.Registry.ForPrompt(llm.PromptAgentSystem)
	if err != nil {
		return nil, err
	}

	var tools []llm.ToolDefinition
	if withTools {
		tools = a.ToolSet()
	}

	messages := make([]llm.Message, 0, len(st.Messages)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: a.systemPrompt(tools),
	})
	messages = append(messages, st.Messages...)
	if !withTools {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "You have reached the tool-use limit for this question. Write your final answer now using the data gathered above.",
		})
	}

	llmStart := time.Now()
	resp, err := client.Invoke(ctx, &llm.Request{Messages: messages, Tools: tools})
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	assistant := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     &resp.Usage,
	}

	pipelineState := map[string]any{
		"tool_call_count": len(resp.ToolCalls),
	}
	if len(resp.ToolCalls) > 0 {
		pipelineState["tool"] = resp.ToolCalls[0].Name
	}

	return &graph.Update{
		Messages:      []llm.Message{assistant},
		TokenUsage:    []usage.Record{usage.NewRecordFromResponse(NodeName, NodeName, resp)},
		PipelineState: pipelineState,
	}, nil
}

func (a *Agent) systemPrompt(tools []llm.ToolDefinition) string {
	in := prompts.AgentSystemInput{
		MaxQueries:     a.cfg.MaxUses,
		TopKPerQuery:   a.cfg.TopKPerQuery,
		SQLMaxYear:     a.cfg.SQLMaxYear,
		GraphQLMaxYear: a.cfg.GraphQLMaxYear,
	}
	for _, def := range tools {
		switch def.Name {
		case ToolGraphQL:
			in.IncludeGraphQL = true
			if a.cfg.Budget != nil {
				in.BudgetUsed = a.cfg.Budget.Used()
				in.BudgetMax = a.cfg.Budget.Max()
			}
		case ToolDocs:
			in.IncludeDocs = true
		}
	}
	return prompts.BuildAgentSystemPrompt(in)
}

// ArgsSchema is the shared argument schema for all three tools.
func ArgsSchema() map[string]any {
	return graph.ToolArgsSchema()
}
