package sqltool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/llm/llmtest"
	"github.com/growthlab/askatlas/pkg/usage"
)

// fakeWarehouse scripts query results keyed by substring match.
type fakeWarehouse struct {
	results map[string]*Result
	errs    map[string]error
	queries []string
}

func (w *fakeWarehouse) Query(_ context.Context, sql string, _ ...any) (*Result, error) {
	w.queries = append(w.queries, sql)
	for key, err := range w.errs {
		if strings.Contains(sql, key) {
			return nil, err
		}
	}
	for key, result := range w.results {
		if strings.Contains(sql, key) {
			return result, nil
		}
	}
	return &Result{}, nil
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := ParseCatalog([]byte(`{
		"classification": [
			{"table_name": "product_hs92", "description": "Product names", "columns": [{"name": "code", "type": "text"}]}
		],
		"hs92": [
			{"table_name": "country_product_year_4", "description": "Trade flows", "columns": [{"name": "year", "type": "integer"}]}
		]
	}`))
	require.NoError(t, err)
	return catalog
}

func newTestPipeline(t *testing.T, fake *llmtest.FakeClient, wh Warehouse) *Pipeline {
	t.Helper()
	reg, err := llm.NewRegistry(fake, fake, nil)
	require.NoError(t, err)
	p, err := NewPipeline(reg, wh, testCatalog(t), 15, 2023)
	require.NoError(t, err)
	return p
}

func stateWithToolCall(question, toolContext string) *graph.State {
	args := map[string]any{"question": question}
	if toolContext != "" {
		args["context"] = toolContext
	}
	return &graph.State{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: question},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call-1", Name: ToolName, Args: args}}},
		},
	}
}

func timer() *usage.Timer { return usage.NewTimer("test", ToolName) }

func TestExtractQuestionResetsScratch(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := stateWithToolCall("Top US exports in 2022?", "use 4-digit codes")
	st.SQL = graph.SQLScratch{SQL: "stale", Result: "stale"}

	update, err := p.extractQuestion(context.Background(), st, timer())
	require.NoError(t, err)
	require.NotNil(t, update.SQL)
	assert.Equal(t, "Top US exports in 2022?", update.SQL.Question)
	assert.Equal(t, "use 4-digit codes", update.SQL.Context)
	assert.Empty(t, update.SQL.SQL)
	assert.Empty(t, update.SQL.Result)
}

func TestExtractProductsDefaultsAndCaps(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueStructured(schemasAndProducts{
		ClassificationSchemas: []string{"hs92", "sitc", "hs12"},
		RequiresProductLookup: false,
	})
	p := newTestPipeline(t, fake, &fakeWarehouse{})

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Question: "q"}
	update, err := p.extractProducts(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Len(t, update.SQL.Schemas, 2, "never more than two data schemas")
	assert.Empty(t, update.SQL.Products, "no lookup requested drops products")
	require.Len(t, update.TokenUsage, 1)
	assert.Equal(t, NodeExtractProducts, update.TokenUsage[0].Node)
}

func TestExtractProductsSchemaOverride(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueStructured(schemasAndProducts{ClassificationSchemas: []string{"hs92"}})
	p := newTestPipeline(t, fake, &fakeWarehouse{})

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Question: "q"}
	st.Overrides.Schema = "sitc"
	update, err := p.extractProducts(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Equal(t, []string{"sitc"}, update.SQL.Schemas)
}

func TestLookupCodesSkipsWithoutProducts(t *testing.T) {
	wh := &fakeWarehouse{}
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), wh)

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Question: "q", Schemas: []string{"hs92"}}
	update, err := p.lookupCodes(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Empty(t, update.SQL.Codes)
	assert.Empty(t, wh.queries, "no DB work when nothing to look up")
}

func TestLookupCodesVerifiesAndSelects(t *testing.T) {
	wh := &fakeWarehouse{
		results: map[string]*Result{
			"code = ANY": {
				Columns: []string{"product_code", "product_name", "product_id", "product_level"},
				Rows:    [][]any{{"5201", "Cotton, not carded", "1234", "4"}},
			},
			"plainto_tsquery": {
				Columns: []string{"product_name", "product_code", "product_id", "product_level", "rank"},
				Rows:    [][]any{{"Cotton yarn", "5205", "1250", "4", 0.8}},
			},
		},
	}
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueStructured(codeSelection{Mappings: []graph.ProductCodes{
		{ProductName: "cotton", ClassificationSchema: "hs92", Codes: []string{"5201"}},
	}})
	p := newTestPipeline(t, fake, wh)

	st := stateWithToolCall("How much cotton did Brazil export?", "")
	st.SQL = graph.SQLScratch{
		Question: "How much cotton did Brazil export?",
		Schemas:  []string{"hs92"},
		Products: []graph.ProductMention{
			{Name: "cotton", ClassificationSchema: "hs92", CandidateCodes: []string{"5201"}},
		},
	}

	update, err := p.lookupCodes(context.Background(), st, timer())
	require.NoError(t, err)
	require.Len(t, update.SQL.Codes, 1)
	assert.Equal(t, []string{"5201"}, update.SQL.Codes[0].Codes)

	// The selection prompt carried candidates from both sources.
	prompt := fake.StructuredPrompts[0]
	assert.Contains(t, prompt, "Cotton, not carded")
	assert.Contains(t, prompt, "Cotton yarn")
}

func TestLookupCodesTrigramFallback(t *testing.T) {
	wh := &fakeWarehouse{
		results: map[string]*Result{
			// Full-text search returns nothing; similarity query hits.
			"similarity": {
				Columns: []string{"product_name", "product_code", "product_id", "product_level", "sim"},
				Rows:    [][]any{{"Coffee", "0901", "900", "4", 0.5}},
			},
		},
	}
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueStructured(codeSelection{Mappings: []graph.ProductCodes{
		{ProductName: "cofee", ClassificationSchema: "hs92", Codes: []string{"0901"}},
	}})
	p := newTestPipeline(t, fake, wh)

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{
		Question: "q",
		Schemas:  []string{"hs92"},
		Products: []graph.ProductMention{{Name: "cofee", ClassificationSchema: "hs92"}},
	}

	update, err := p.lookupCodes(context.Background(), st, timer())
	require.NoError(t, err)
	require.Len(t, update.SQL.Codes, 1)

	var sawFullText, sawSimilarity bool
	for _, q := range wh.queries {
		if strings.Contains(q, "plainto_tsquery") {
			sawFullText = true
		}
		if strings.Contains(q, "similarity") {
			sawSimilarity = true
		}
	}
	assert.True(t, sawFullText)
	assert.True(t, sawSimilarity)
}

func TestGetTableInfo(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Question: "q", Schemas: []string{"hs92"}}

	update, err := p.getTableInfo(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Contains(t, update.SQL.TableInfo, "classification.product_hs92")
	assert.Contains(t, update.SQL.TableInfo, "hs92.country_product_year_4")
}

func TestGenerateSQLStripsFences(t *testing.T) {
	fake := llmtest.NewFakeClient("m")
	fake.EnqueueText("```sql\nSELECT year, export_value FROM hs92.country_product_year_4\n```")
	p := newTestPipeline(t, fake, &fakeWarehouse{})

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Question: "q", Schemas: []string{"hs92"}, TableInfo: "tables"}
	update, err := p.generateSQL(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Equal(t, "SELECT year, export_value FROM hs92.country_product_year_4", update.SQL.SQL)
}

func TestExecuteSQLSuccess(t *testing.T) {
	wh := &fakeWarehouse{
		results: map[string]*Result{
			"country_product_year_4": {
				Columns: []string{"product", "value"},
				Rows:    [][]any{{"Cars", 100.0}, {"Soy", 50.0}},
			},
		},
	}
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), wh)

	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{SQL: "SELECT product, value FROM hs92.country_product_year_4"}
	update, err := p.executeSQL(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Contains(t, update.SQL.Result, "Cars")
	assert.Equal(t, []string{"product", "value"}, update.SQL.ResultColumns)
	assert.Len(t, update.SQL.ResultRows, 2)
	assert.Equal(t, []string{"hs92.country_product_year_4"}, update.SQL.Tables)
	assert.Equal(t, true, update.PipelineState["success"])
	assert.Equal(t, 2, update.PipelineState["row_count"])
}

func TestExecuteSQLEmptyResult(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{SQL: "SELECT 1 FROM hs92.country_product_year_4 WHERE false"}

	update, err := p.executeSQL(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Equal(t, EmptyResultMessage, update.SQL.Result)
}

func TestExecuteSQLRejectsNonSelect(t *testing.T) {
	wh := &fakeWarehouse{}
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), wh)
	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{SQL: "DELETE FROM conversations"}

	update, err := p.executeSQL(context.Background(), st, timer())
	require.NoError(t, err, "errors are data, not failures")
	require.NotNil(t, update.LastError)
	assert.Contains(t, *update.LastError, "SELECT")
	assert.Empty(t, wh.queries, "statement never reaches the warehouse")
}

func TestExecuteSQLTerminalErrorBecomesState(t *testing.T) {
	wh := &fakeWarehouse{errs: map[string]error{"country_product_year_4": errors.New(`relation "x" does not exist`)}}
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), wh)
	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{SQL: "SELECT 1 FROM hs92.country_product_year_4"}

	update, err := p.executeSQL(context.Background(), st, timer())
	require.NoError(t, err)
	require.NotNil(t, update.LastError)
	assert.Contains(t, *update.LastError, "does not exist")
	assert.Equal(t, false, update.PipelineState["success"])
	assert.Len(t, wh.queries, 1, "terminal errors are not retried")
}

func TestFormatResultsIncrementsBudget(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := stateWithToolCall("q", "")
	st.SQL = graph.SQLScratch{Result: "product\tvalue\nCars\t100"}

	update, err := p.formatResults(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Equal(t, 1, update.QueriesExecutedDelta)
	require.Len(t, update.Messages, 1)
	msg := update.Messages[0]
	assert.Equal(t, llm.RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Equal(t, ToolName, msg.ToolName)
	assert.Contains(t, msg.Content, "Cars")
}

func TestFormatResultsRejectsParallelCalls(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := &graph.State{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: ToolName, Args: map[string]any{"question": "a"}},
				{ID: "call-2", Name: ToolName, Args: map[string]any{"question": "b"}},
			}},
		},
		SQL: graph.SQLScratch{Result: "data"},
	}

	update, err := p.formatResults(context.Background(), st, timer())
	require.NoError(t, err)
	require.Len(t, update.Messages, 2)
	assert.Equal(t, "call-2", update.Messages[1].ToolCallID)
	assert.Equal(t, graph.ParallelCallRejection, update.Messages[1].Content)
	assert.Equal(t, 1, update.QueriesExecutedDelta, "parallel rejections consume no budget")
}

func TestFormatResultsSurfacesError(t *testing.T) {
	p := newTestPipeline(t, llmtest.NewFakeClient("m"), &fakeWarehouse{})
	st := stateWithToolCall("q", "")
	st.LastError = `relation "x" does not exist`
	st.SQL = graph.SQLScratch{SQL: "SELECT 1 FROM x"}

	update, err := p.formatResults(context.Background(), st, timer())
	require.NoError(t, err)
	assert.Contains(t, update.Messages[0].Content, "Query failed")
	assert.Contains(t, update.Messages[0].Content, "does not exist")
}

func TestClassifyError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, classifyError("SELECT 1", nil))
	})

	t.Run("deadline is transient", func(t *testing.T) {
		err := classifyError("SELECT 1", context.DeadlineExceeded)
		var transient *TransientError
		assert.ErrorAs(t, err, &transient)
	})

	t.Run("other errors are terminal", func(t *testing.T) {
		err := classifyError("SELECT 1", errors.New("syntax error"))
		var execErr *QueryExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "SELECT 1", execErr.SQL)
	})
}

func TestExecuteWithRetry(t *testing.T) {
	origBase, origMax := retryBase, retryMax
	retryBase, retryMax = time.Millisecond, 2*time.Millisecond
	defer func() { retryBase, retryMax = origBase, origMax }()

	t.Run("transient errors retried up to three attempts", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), func() error {
			attempts++
			return &TransientError{Err: errors.New("connection reset")}
		})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("recovers when a retry succeeds", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), func() error {
			attempts++
			if attempts < 2 {
				return &TransientError{Err: errors.New("timeout")}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("terminal errors return immediately", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), func() error {
			attempts++
			return &QueryExecutionError{Err: errors.New("bad syntax")}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}
