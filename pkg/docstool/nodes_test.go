package docstool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/llm/llmtest"
	"github.com/growthlab/askatlas/pkg/usage"
)

func testManifest() []Entry {
	return []Entry{
		{Filename: "eci.md", Title: "ECI", Purpose: "Defines ECI.", WhenToLoad: "ECI questions.", Content: "ECI measures knowledge intensity."},
		{Filename: "rca.md", Title: "RCA", Purpose: "Defines RCA.", WhenToLoad: "RCA questions.", Content: "RCA is revealed comparative advantage."},
		{Filename: "cleaning.md", Title: "Data cleaning", Purpose: "Mirror statistics.", WhenToLoad: "Data quality questions.", Content: "Exports are mirrored."},
	}
}

func newDocsPipeline(t *testing.T, fake *llmtest.FakeClient, manifest []Entry) *Pipeline {
	t.Helper()
	reg, err := llm.NewRegistry(fake, fake, nil)
	require.NoError(t, err)
	p, err := NewPipeline(reg, manifest, 2)
	require.NoError(t, err)
	return p
}

func docsState(question string) *graph.State {
	return &graph.State{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: question},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: ToolName, Args: map[string]any{"question": question}},
			}},
		},
	}
}

func docsTimer() *usage.Timer { return usage.NewTimer("test", ToolName) }

func TestExtractDocsQuestion(t *testing.T) {
	p := newDocsPipeline(t, llmtest.NewFakeClient("m"), testManifest())
	st := docsState("What is ECI?")
	st.Docs = graph.DocsScratch{Synthesis: "stale"}

	update, err := p.extractQuestion(context.Background(), st, docsTimer())
	require.NoError(t, err)
	assert.Equal(t, "What is ECI?", update.Docs.Question)
	assert.Empty(t, update.Docs.Synthesis)
}

func TestSelectDocsPicksIndices(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueStructured(docsSelection{Reasoning: "ECI question", SelectedIndices: []int{0}})
	p := newDocsPipeline(t, fake, testManifest())

	st := docsState("What is ECI?")
	st.Docs = graph.DocsScratch{Question: "What is ECI?"}
	update, err := p.selectDocs(context.Background(), st, docsTimer())
	require.NoError(t, err)
	assert.Equal(t, []string{"eci.md"}, update.Docs.SelectedFiles)
	require.Len(t, update.TokenUsage, 1)
}

func TestSelectDocsFallbacks(t *testing.T) {
	t.Run("LLM error selects all docs", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.Err = errors.New("provider down")
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q"}
		update, err := p.selectDocs(context.Background(), st, docsTimer())
		require.NoError(t, err, "selection must never fail the turn")
		assert.Len(t, update.Docs.SelectedFiles, 3)
	})

	t.Run("only invalid indices selects all docs", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.EnqueueStructured(docsSelection{SelectedIndices: []int{10, -1}})
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q"}
		update, err := p.selectDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Len(t, update.Docs.SelectedFiles, 3)
	})

	t.Run("out-of-range indices dropped silently", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.EnqueueStructured(docsSelection{SelectedIndices: []int{1, 99}})
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q"}
		update, err := p.selectDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Equal(t, []string{"rca.md"}, update.Docs.SelectedFiles)
	})

	t.Run("selection capped at max docs", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.EnqueueStructured(docsSelection{SelectedIndices: []int{0, 1, 2}})
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q"}
		update, err := p.selectDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Len(t, update.Docs.SelectedFiles, 2)
	})
}

func TestSynthesizeDocs(t *testing.T) {
	t.Run("synthesis from selected docs", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.EnqueueText("ECI measures the knowledge intensity of an economy.")
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("What is ECI?")
		st.Docs = graph.DocsScratch{Question: "What is ECI?", SelectedFiles: []string{"eci.md"}}
		update, err := p.synthesizeDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Contains(t, update.Docs.Synthesis, "knowledge intensity")
		require.Len(t, update.TokenUsage, 1)
	})

	t.Run("LLM failure falls back to raw bodies", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		fake.Err = errors.New("provider down")
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q", SelectedFiles: []string{"eci.md", "rca.md"}}
		update, err := p.synthesizeDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Contains(t, update.Docs.Synthesis, "ECI measures knowledge intensity.")
		assert.Contains(t, update.Docs.Synthesis, "revealed comparative advantage")
	})

	t.Run("nothing loadable yields terminal message without LLM call", func(t *testing.T) {
		fake := llmtest.NewFakeClient("m")
		p := newDocsPipeline(t, fake, testManifest())

		st := docsState("q")
		st.Docs = graph.DocsScratch{Question: "q", SelectedFiles: []string{"missing.md"}}
		update, err := p.synthesizeDocs(context.Background(), st, docsTimer())
		require.NoError(t, err)
		assert.Equal(t, NoDocsMessage, update.Docs.Synthesis)
		assert.Empty(t, fake.Requests, "no synthesis call when nothing loaded")
	})
}

func TestFormatDocsResultsNeverConsumesBudget(t *testing.T) {
	p := newDocsPipeline(t, llmtest.NewFakeClient("m"), testManifest())
	st := docsState("q")
	st.Docs = graph.DocsScratch{Synthesis: "ECI is..."}

	update, err := p.formatResults(context.Background(), st, docsTimer())
	require.NoError(t, err)
	assert.Zero(t, update.QueriesExecutedDelta)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, ToolName, update.Messages[0].ToolName)
	assert.Equal(t, "ECI is...", update.Messages[0].Content)
}

func TestDocsToolDossier(t *testing.T) {
	p := newDocsPipeline(t, llmtest.NewFakeClient("m"), testManifest())
	tool := p.Tool()
	assert.Equal(t, ToolName, tool.Name)
	assert.False(t, tool.CountsAgainstBudget)
	assert.Len(t, tool.Nodes, 4)
	assert.Equal(t, NodeExtractQuestion, tool.Nodes[0].Name)
	assert.Equal(t, NodeFormatResults, tool.Nodes[3].Name)
}
