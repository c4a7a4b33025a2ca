package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/growthlab/askatlas/pkg/checkpoint"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/usage"
)

// NodeFunc is one graph node: it reads the state and returns a partial
// update. The timer is used to mark LLM and I/O sub-intervals; the executor
// records the node's timing automatically when the node returns.
type NodeFunc func(ctx context.Context, st *State, t *usage.Timer) (*Update, error)

// Node pairs a node name with its body.
type Node struct {
	Name  string
	Label string
	Run   NodeFunc
}

// Tool is a tool-pipeline dossier: the tool surface exposed to the LLM plus
// the ordered nodes that execute it and its budget classification.
type Tool struct {
	Name                string
	Description         string
	ArgsSchema          map[string]any
	Nodes               []Node
	CountsAgainstBudget bool
}

// Definition returns the LLM-facing tool definition.
func (t Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.ArgsSchema,
	}
}

// NodeMaxQueriesExceeded is the short-circuit node name used when a
// budget-counting tool is invoked past the per-turn limit.
const NodeMaxQueriesExceeded = "max_queries_exceeded"

// ParallelCallRejection is sent to every tool call after the first when the
// model emits parallel tool calls.
const ParallelCallRejection = "Only one tool can be executed at a time. Please make additional requests sequentially."

// Config assembles an Executor.
type Config struct {
	// Agent is the tool-selecting agent node.
	Agent Node
	// Conclude is the agent invoked without tools to force a final answer
	// once the iteration cap is reached.
	Conclude Node
	// Tools are the pipelines, keyed below by their LLM-facing names.
	Tools []Tool
	// Store receives a checkpoint after every node.
	Store checkpoint.Store
	// MaxUses bounds budget-counting tool invocations per turn.
	MaxUses int
	// MaxIterations bounds agent loop iterations per turn.
	// Defaults to 2*MaxUses+8.
	MaxIterations int
	// StreamBuffer is the stream channel capacity. Defaults to 64.
	StreamBuffer int
}

// Executor drives node transitions, checkpointing, and streaming for one
// compiled graph. Pipeline configuration is shared across all turns and
// read-only after construction.
type Executor struct {
	agent    Node
	conclude Node
	tools    map[string]Tool
	store    checkpoint.Store
	maxUses  int
	maxIter  int
	buffer   int
}

// NewExecutor compiles the static graph.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Agent.Run == nil {
		return nil, fmt.Errorf("executor requires an agent node")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("executor requires a checkpoint store")
	}
	if cfg.MaxUses <= 0 {
		return nil, fmt.Errorf("executor requires a positive MaxUses")
	}
	tools := make(map[string]Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		if len(tool.Nodes) == 0 {
			return nil, fmt.Errorf("tool %q has no pipeline nodes", tool.Name)
		}
		tools[tool.Name] = tool
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 2*cfg.MaxUses + 8
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Executor{
		agent:    cfg.Agent,
		conclude: cfg.Conclude,
		tools:    tools,
		store:    cfg.Store,
		maxUses:  cfg.MaxUses,
		maxIter:  maxIter,
		buffer:   buffer,
	}, nil
}

// Tools returns the tool dossiers keyed by name.
func (e *Executor) Tools() map[string]Tool { return e.tools }

// LoadState rehydrates the latest checkpointed state for a thread, or a
// fresh state when the thread has never been written.
func (e *Executor) LoadState(ctx context.Context, threadID string) (*State, error) {
	cp, err := e.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for thread %s: %w", threadID, err)
	}
	st := &State{}
	if cp != nil && len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, st); err != nil {
			return nil, fmt.Errorf("decode checkpoint state: %w", err)
		}
	}
	return st, nil
}

// Run executes one turn for the given thread and user input, streaming
// StreamData events until the turn terminates. The returned channel closes
// at end of turn. Caller cancellation stops node execution and suppresses
// the in-flight node's checkpoint.
func (e *Executor) Run(ctx context.Context, threadID, input string, overrides Overrides) (<-chan StreamData, error) {
	st, err := e.LoadState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st.ResetForTurn()
	st.Overrides = overrides
	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, Content: input})

	stream := make(chan StreamData, e.buffer)
	go func() {
		defer close(stream)
		e.runTurn(ctx, threadID, st, stream)
	}()
	return stream, nil
}

type turnStep struct {
	step int
}

func (e *Executor) runTurn(ctx context.Context, threadID string, st *State, stream chan<- StreamData) {
	step := &turnStep{}
	log := slog.With("thread_id", threadID)

	for iteration := 0; iteration < e.maxIter; iteration++ {
		if err := e.runNode(ctx, threadID, e.agent, "agent", st, step, stream); err != nil {
			log.Error("Agent node failed; ending turn", "error", err)
			return
		}

		calls := st.PendingToolCalls()
		if len(calls) == 0 {
			e.emitChunks(ctx, stream, MessageTypeAgentTalk, st.LastMessage().Content)
			return
		}
		if len(calls) > 1 {
			log.Warn("Model emitted parallel tool calls; only the first will be executed",
				"count", len(calls))
		}

		first := calls[0]
		tool, ok := e.tools[first.Name]
		if !ok {
			st.Merge(&Update{Messages: rejectionMessages(calls, first.Name,
				fmt.Sprintf("Tool %q is not available in the current mode.", first.Name))})
			e.checkpointState(ctx, threadID, st, step)
			continue
		}

		if !e.emit(ctx, stream, StreamData{MessageType: MessageTypeToolCall, ToolCall: first.Name}) {
			return
		}

		if tool.CountsAgainstBudget && st.QueriesExecuted >= e.maxUses {
			node := e.maxQueriesNode(tool.Name, calls)
			if err := e.runNode(ctx, threadID, node, tool.Name, st, step, stream); err != nil {
				log.Error("Budget short-circuit node failed", "error", err)
				return
			}
			continue
		}

		for _, node := range tool.Nodes {
			if err := e.runNode(ctx, threadID, node, tool.Name, st, step, stream); err != nil {
				log.Error("Pipeline node failed; ending turn",
					"node", node.Name, "tool", tool.Name, "error", err)
				return
			}
		}

		e.emitToolOutput(ctx, stream, st, first.ID)
	}

	// Iteration cap reached: force a final answer with tools withheld.
	if e.conclude.Run == nil {
		log.Warn("Iteration cap reached with no conclude node configured; ending turn")
		return
	}
	if err := e.runNode(ctx, threadID, e.conclude, "agent", st, step, stream); err != nil {
		log.Error("Forced conclusion failed", "error", err)
		return
	}
	e.emitChunks(ctx, stream, MessageTypeAgentTalk, st.LastMessage().Content)
}

// runNode executes a single node: node_start, body with timing, state
// merge, checkpoint, pipeline_state. Cancellation suppresses the merge and
// the checkpoint for the in-flight node.
func (e *Executor) runNode(ctx context.Context, threadID string, node Node, pipeline string, st *State, step *turnStep, stream chan<- StreamData) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	label := node.Label
	if label == "" {
		label = node.Name
	}
	if !e.emit(ctx, stream, StreamData{MessageType: MessageTypeNodeStart, Node: node.Name, Label: label}) {
		return ctx.Err()
	}

	timer := usage.NewTimer(node.Name, pipeline)
	update, err := node.Run(ctx, st, timer)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	if update == nil {
		update = &Update{}
	}
	update.StepTiming = append(update.StepTiming, timer.Record())
	st.Merge(update)
	e.checkpointState(ctx, threadID, st, step)

	data := update.PipelineState
	if data == nil {
		data = map[string]any{}
	}
	e.emit(ctx, stream, StreamData{MessageType: MessageTypePipelineState, Stage: node.Name, Data: data})
	return nil
}

func (e *Executor) checkpointState(ctx context.Context, threadID string, st *State, step *turnStep) {
	if ctx.Err() != nil {
		return
	}
	step.step++
	stateJSON, err := json.Marshal(st)
	if err != nil {
		slog.Error("Failed to serialize state for checkpoint", "thread_id", threadID, "error", err)
		return
	}
	_, err = e.store.Put(ctx, checkpoint.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Namespace: checkpoint.DefaultNamespace,
		State:     stateJSON,
		CreatedAt: time.Now().UTC(),
	}, checkpoint.Metadata{Source: "loop", Step: step.step})
	if err != nil {
		slog.Error("Failed to write checkpoint", "thread_id", threadID, "error", err)
	}
}

// maxQueriesNode builds the short-circuit node that reports budget
// exhaustion to the model without incrementing queries_executed.
func (e *Executor) maxQueriesNode(toolName string, calls []llm.ToolCall) Node {
	return Node{
		Name:  NodeMaxQueriesExceeded,
		Label: "Query limit reached",
		Run: func(_ context.Context, st *State, _ *usage.Timer) (*Update, error) {
			content := fmt.Sprintf(
				"Query limit exhausted: you have used all %d data queries for this question. Answer with the data you already have.",
				e.maxUses)
			messages := []llm.Message{{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: calls[0].ID,
				ToolName:   toolName,
			}}
			for _, tc := range calls[1:] {
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    ParallelCallRejection,
					ToolCallID: tc.ID,
					ToolName:   toolName,
				})
			}
			return &Update{
				Messages: messages,
				PipelineState: map[string]any{
					"queries_executed": st.QueriesExecuted,
					"max_uses":         e.maxUses,
				},
			}, nil
		},
	}
}

// emitToolOutput streams the primary tool result for the given call id.
func (e *Executor) emitToolOutput(ctx context.Context, stream chan<- StreamData, st *State, callID string) {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		msg := st.Messages[i]
		if msg.Role == llm.RoleTool && msg.ToolCallID == callID {
			e.emitChunks(ctx, stream, MessageTypeToolOutput, msg.Content)
			return
		}
	}
}

func (e *Executor) emitChunks(ctx context.Context, stream chan<- StreamData, messageType, content string) {
	for _, chunk := range chunkContent(content) {
		if !e.emit(ctx, stream, StreamData{MessageType: messageType, Content: chunk}) {
			return
		}
	}
}

func (e *Executor) emit(ctx context.Context, stream chan<- StreamData, data StreamData) bool {
	select {
	case stream <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// rejectionMessages produces tool results refusing every call in the list.
func rejectionMessages(calls []llm.ToolCall, toolName, reason string) []llm.Message {
	messages := make([]llm.Message, 0, len(calls))
	for i, tc := range calls {
		content := reason
		if i > 0 {
			content = ParallelCallRejection
		}
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: tc.ID,
			ToolName:   toolName,
		})
	}
	return messages
}
