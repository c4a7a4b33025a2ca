package docstool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/prompts"
	"github.com/growthlab/askatlas/pkg/usage"
)

// ToolName is the docs pipeline's name as exposed to the LLM.
const ToolName = "docs_tool"

// ToolDescription is the tool's LLM-facing prose description.
const ToolDescription = "Retrieves methodology documentation: metric definitions (ECI, PCI, RCA, " +
	"distance, proximity), trade data cleaning, classification systems, data coverage, and how to " +
	"reproduce Atlas visualizations. Does not count toward the query budget. " +
	"Do NOT use for actual data queries."

// Pipeline node names.
const (
	NodeExtractQuestion = "extract_docs_question"
	NodeSelectDocs      = "select_docs"
	NodeSynthesizeDocs  = "synthesize_docs"
	NodeFormatResults   = "format_docs_results"
)

// NoDocsMessage is the terminal synthesis when nothing could be loaded.
const NoDocsMessage = "No documentation files could be loaded."

// Pipeline holds the docs tool's shared dependencies: the model registry
// and the pre-loaded manifest. Read-only after construction.
type Pipeline struct {
	registry *llm.Registry
	manifest []Entry
	maxDocs  int
}

// NewPipeline assembles the docs pipeline.
func NewPipeline(registry *llm.Registry, manifest []Entry, maxDocs int) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("docs pipeline requires a registry")
	}
	if maxDocs <= 0 {
		maxDocs = 2
	}
	return &Pipeline{registry: registry, manifest: manifest, maxDocs: maxDocs}, nil
}

// Tool returns the pipeline's dossier for the executor. Docs invocations
// are free: CountsAgainstBudget is false.
func (p *Pipeline) Tool() graph.Tool {
	return graph.Tool{
		Name:                ToolName,
		Description:         ToolDescription,
		ArgsSchema:          graph.ToolArgsSchema(),
		CountsAgainstBudget: false,
		Nodes: []graph.Node{
			{Name: NodeExtractQuestion, Label: "Reading question", Run: p.extractQuestion},
			{Name: NodeSelectDocs, Label: "Selecting documents", Run: p.selectDocs},
			{Name: NodeSynthesizeDocs, Label: "Synthesizing documentation", Run: p.synthesizeDocs},
			{Name: NodeFormatResults, Label: "Formatting response", Run: p.formatResults},
		},
	}
}

func (p *Pipeline) extractQuestion(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	question, toolContext, calls := graph.FirstToolCallArgs(st)
	if len(calls) == 0 {
		return nil, fmt.Errorf("extract_docs_question: no pending tool calls")
	}
	if len(calls) > 1 {
		slog.Warn("Parallel tool calls received; only the first will be executed",
			"count", len(calls))
	}
	scratch := graph.DocsScratch{Question: question, Context: toolContext}
	return &graph.Update{
		Docs:          &scratch,
		PipelineState: map[string]any{"question": question},
	}, nil
}

type docsSelection struct {
	Reasoning       string `json:"reasoning"`
	SelectedIndices []int  `json:"selected_indices"`
}

func (p *Pipeline) selectionSchema() llm.Schema {
	return llm.Schema{
		Name:        "docs_selection",
		Description: "Which documents to load from the manifest.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reasoning": map[string]any{
					"type":        "string",
					"description": "Brief explanation of why these documents are relevant.",
				},
				"selected_indices": map[string]any{
					"type":        "array",
					"description": fmt.Sprintf("Zero-based indices of the 1-%d most relevant documents.", p.maxDocs),
					"items":       map[string]any{"type": "integer"},
				},
			},
			"required": []any{"reasoning", "selected_indices"},
		},
	}
}

// selectDocs picks manifest entries for synthesis. This node never fails
// the turn: a selection error or an empty valid-index set falls back to
// selecting all documents; out-of-range indices are silently dropped.
func (p *Pipeline) selectDocs(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.Docs
	var records []usage.Record

	selected := func() []Entry {
		client, err := p.registry.ForPrompt(llm.PromptDocumentSelection)
		if err != nil {
			slog.Error("Doc selection client unavailable; loading all documents as fallback", "error", err)
			return p.manifest
		}

		var out docsSelection
		prompt := prompts.BuildDocumentSelectionPrompt(scratch.Question, scratch.Context, FormatManifest(p.manifest), p.maxDocs)
		llmStart := time.Now()
		u, err := client.InvokeStructured(ctx, prompt, p.selectionSchema(), &out)
		t.MarkLLM(llmStart)
		if err != nil {
			slog.Error("Doc selection LLM failed; loading all documents as fallback", "error", err)
			return p.manifest
		}
		records = append(records, usage.NewRecord(NodeSelectDocs, ToolName, u))

		var entries []Entry
		for _, idx := range out.SelectedIndices {
			if idx >= 0 && idx < len(p.manifest) {
				entries = append(entries, p.manifest[idx])
			}
		}
		if len(entries) > p.maxDocs {
			entries = entries[:p.maxDocs]
		}
		if len(entries) == 0 {
			slog.Warn("Doc selection returned no valid indices; falling back to all docs")
			return p.manifest
		}
		return entries
	}()

	filenames := make([]string, len(selected))
	for i, entry := range selected {
		filenames[i] = entry.Filename
	}
	scratch.SelectedFiles = filenames

	return &graph.Update{
		Docs:          &scratch,
		TokenUsage:    records,
		PipelineState: map[string]any{"selected_files": filenames},
	}, nil
}

// synthesizeDocs produces a focused synthesis of the selected documents.
// A synthesis failure falls back to the raw concatenated bodies; when no
// document could be loaded, the terminal message short-circuits the LLM
// call entirely.
func (p *Pipeline) synthesizeDocs(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.Docs
	content := assembleContent(scratch.SelectedFiles, p.manifest)
	if content == "" {
		scratch.Synthesis = NoDocsMessage
		return &graph.Update{
			Docs:          &scratch,
			PipelineState: map[string]any{"synthesized": false},
		}, nil
	}

	var records []usage.Record
	synthesis := func() string {
		client, err := p.registry.ForPrompt(llm.PromptDocumentationSynthesis)
		if err != nil {
			slog.Error("Doc synthesis client unavailable; returning raw docs", "error", err)
			return content
		}
		prompt := prompts.BuildDocumentationSynthesisPrompt(scratch.Question, scratch.Context, content)
		llmStart := time.Now()
		resp, err := client.Invoke(ctx, &llm.Request{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		t.MarkLLM(llmStart)
		if err != nil {
			slog.Error("Doc synthesis LLM failed; returning raw concatenated docs", "error", err)
			return content
		}
		records = append(records, usage.NewRecordFromResponse(NodeSynthesizeDocs, ToolName, resp))
		return resp.Content
	}()

	scratch.Synthesis = synthesis
	return &graph.Update{
		Docs:          &scratch,
		TokenUsage:    records,
		PipelineState: map[string]any{"synthesized": true},
	}, nil
}

// formatResults emits the synthesis as the tool result. queries_executed
// is NOT incremented: docs lookups are free.
func (p *Pipeline) formatResults(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	calls := st.PendingToolCalls()
	if len(calls) == 0 {
		return nil, fmt.Errorf("format_docs_results: no pending tool calls")
	}

	synthesis := st.Docs.Synthesis
	if synthesis == "" {
		synthesis = "No relevant documentation found."
	}

	messages := []llm.Message{{
		Role:       llm.RoleTool,
		Content:    synthesis,
		ToolCallID: calls[0].ID,
		ToolName:   ToolName,
	}}
	for _, tc := range calls[1:] {
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    graph.ParallelCallRejection,
			ToolCallID: tc.ID,
			ToolName:   ToolName,
		})
	}

	return &graph.Update{
		Messages:      messages,
		PipelineState: map[string]any{"selected_files": st.Docs.SelectedFiles},
	}, nil
}
