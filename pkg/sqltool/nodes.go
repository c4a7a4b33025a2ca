package sqltool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/prompts"
	"github.com/growthlab/askatlas/pkg/usage"
)

// ToolName is the SQL pipeline's name as exposed to the LLM.
const ToolName = "query_tool"

// ToolDescription is the tool's LLM-facing prose description.
const ToolDescription = "Runs read-only SQL against the Atlas trade warehouse. " +
	"Use for custom aggregations, bilateral trade detail, and product-level analysis. " +
	"Counts against the per-question query budget."

// Pipeline node names.
const (
	NodeExtractQuestion = "extract_tool_question"
	NodeExtractProducts = "extract_products"
	NodeLookupCodes     = "lookup_codes"
	NodeGetTableInfo    = "get_table_info"
	NodeGenerateSQL     = "generate_sql"
	NodeExecuteSQL      = "execute_sql"
	NodeFormatResults   = "format_results"
)

// Pipeline holds the SQL tool's shared dependencies: the model registry,
// the warehouse, and the pre-loaded table catalog. Read-only after
// construction.
type Pipeline struct {
	registry   *llm.Registry
	warehouse  Warehouse
	catalog    *Catalog
	topK       int
	sqlMaxYear int
}

// NewPipeline assembles the SQL pipeline.
func NewPipeline(registry *llm.Registry, warehouse Warehouse, catalog *Catalog, topK, sqlMaxYear int) (*Pipeline, error) {
	if registry == nil || warehouse == nil || catalog == nil {
		return nil, fmt.Errorf("sql pipeline requires registry, warehouse, and catalog")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("sql pipeline requires a positive row cap")
	}
	return &Pipeline{
		registry:   registry,
		warehouse:  warehouse,
		catalog:    catalog,
		topK:       topK,
		sqlMaxYear: sqlMaxYear,
	}, nil
}

// Tool returns the pipeline's dossier for the executor.
func (p *Pipeline) Tool() graph.Tool {
	return graph.Tool{
		Name:                ToolName,
		Description:         ToolDescription,
		ArgsSchema:          graph.ToolArgsSchema(),
		CountsAgainstBudget: true,
		Nodes: []graph.Node{
			{Name: NodeExtractQuestion, Label: "Reading question", Run: p.extractQuestion},
			{Name: NodeExtractProducts, Label: "Selecting schemas and products", Run: p.extractProducts},
			{Name: NodeLookupCodes, Label: "Resolving product codes", Run: p.lookupCodes},
			{Name: NodeGetTableInfo, Label: "Assembling table info", Run: p.getTableInfo},
			{Name: NodeGenerateSQL, Label: "Writing SQL", Run: p.generateSQL},
			{Name: NodeExecuteSQL, Label: "Running query", Run: p.executeSQL},
			{Name: NodeFormatResults, Label: "Formatting results", Run: p.formatResults},
		},
	}
}

// extractQuestion resets the SQL scratchpads and copies the question and
// context from the tool call arguments.
func (p *Pipeline) extractQuestion(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	question, toolContext, calls := graph.FirstToolCallArgs(st)
	if len(calls) == 0 {
		return nil, fmt.Errorf("extract_tool_question: no pending tool calls")
	}
	if len(calls) > 1 {
		slog.Warn("Parallel tool calls received; only the first will be executed",
			"count", len(calls))
	}
	scratch := graph.SQLScratch{Question: question, Context: toolContext}
	return &graph.Update{
		SQL:           &scratch,
		PipelineState: map[string]any{"question": question},
	}, nil
}

// schemasAndProducts is the structured output of the extraction call.
type schemasAndProducts struct {
	ClassificationSchemas []string               `json:"classification_schemas"`
	Products              []graph.ProductMention `json:"products"`
	RequiresProductLookup bool                   `json:"requires_product_lookup"`
}

var schemasAndProductsSchema = llm.Schema{
	Name:        "schemas_and_products",
	Description: "Classification schemas relevant to the question and product names that need code lookups.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"classification_schemas": map[string]any{
				"type":        "array",
				"description": "Selected data schemas, at most two.",
				"items": map[string]any{
					"type": "string",
					"enum": []any{"hs92", "hs12", "sitc", "services_unilateral", "services_bilateral"},
				},
			},
			"products": map[string]any{
				"type":        "array",
				"description": "Products mentioned without explicit codes.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":                  map[string]any{"type": "string"},
						"classification_schema": map[string]any{"type": "string"},
						"candidate_codes": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []any{"name", "classification_schema", "candidate_codes"},
				},
			},
			"requires_product_lookup": map[string]any{"type": "boolean"},
		},
		"required": []any{"classification_schemas", "products", "requires_product_lookup"},
	},
}

// extractProducts selects the relevant classification schemas and flags
// product names needing code lookups.
func (p *Pipeline) extractProducts(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	client, err := p.registry.ForPrompt(llm.PromptProductExtraction)
	if err != nil {
		return nil, err
	}

	var out schemasAndProducts
	prompt := prompts.BuildProductExtractionPrompt(st.SQL.Question, st.SQL.Context)
	llmStart := time.Now()
	u, err := client.InvokeStructured(ctx, prompt, schemasAndProductsSchema, &out)
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	schemas := normalizeSchemas(out.ClassificationSchemas)
	if st.Overrides.Schema != "" && ValidSchema(st.Overrides.Schema) {
		schemas = []string{st.Overrides.Schema}
	}

	scratch := st.SQL
	scratch.Schemas = schemas
	scratch.Products = out.Products
	if !out.RequiresProductLookup {
		scratch.Products = nil
	}

	return &graph.Update{
		SQL:        &scratch,
		TokenUsage: []usage.Record{usage.NewRecord(NodeExtractProducts, ToolName, u)},
		PipelineState: map[string]any{
			"schemas":                 schemas,
			"requires_product_lookup": out.RequiresProductLookup,
			"product_count":           len(scratch.Products),
		},
	}, nil
}

// codeSelection is the structured output of the final code selection call.
type codeSelection struct {
	Mappings []graph.ProductCodes `json:"mappings"`
}

var codeSelectionSchema = llm.Schema{
	Name:        "product_code_mapping",
	Description: "Final mapping of product names to product codes.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mappings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"product_name":          map[string]any{"type": "string"},
						"classification_schema": map[string]any{"type": "string"},
						"codes": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []any{"product_name", "classification_schema", "codes"},
				},
			},
		},
		"required": []any{"mappings"},
	},
}

// lookupCodes resolves mentioned products to verified codes: exact-match
// verification of the model's candidates, full-text search with trigram
// fallback, then a selection call over the union.
func (p *Pipeline) lookupCodes(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.SQL
	if len(scratch.Products) == 0 {
		scratch.Codes = nil
		return &graph.Update{
			SQL:           &scratch,
			PipelineState: map[string]any{"codes_resolved": 0},
		}, nil
	}

	var results []searchResult
	for _, product := range scratch.Products {
		schema := product.ClassificationSchema
		if !ValidSchema(schema) {
			slog.Warn("Skipping product with invalid classification schema",
				"product", product.Name, "schema", schema)
			continue
		}

		ioStart := time.Now()
		verified, err := verifyProductCodes(ctx, p.warehouse, product.CandidateCodes, schema)
		if err != nil {
			slog.Warn("Code verification failed", "product", product.Name, "error", err)
		}
		dbMatches, err := directTextSearch(ctx, p.warehouse, product.Name, schema)
		t.MarkIO(ioStart)
		if err != nil {
			slog.Warn("Text search failed", "product", product.Name, "error", err)
		}

		results = append(results, searchResult{
			ProductName:          product.Name,
			ClassificationSchema: schema,
			LLMSuggestions:       verified,
			DBSuggestions:        dbMatches,
		})
	}

	if len(results) == 0 {
		scratch.Codes = nil
		return &graph.Update{
			SQL:           &scratch,
			PipelineState: map[string]any{"codes_resolved": 0},
		}, nil
	}

	client, err := p.registry.ForPrompt(llm.PromptProductCodeSelection)
	if err != nil {
		return nil, err
	}
	var selection codeSelection
	prompt := prompts.BuildProductCodeSelectionPrompt(scratch.Question, formatSearchResults(results))
	llmStart := time.Now()
	u, err := client.InvokeStructured(ctx, prompt, codeSelectionSchema, &selection)
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	scratch.Codes = selection.Mappings
	return &graph.Update{
		SQL:        &scratch,
		TokenUsage: []usage.Record{usage.NewRecord(NodeLookupCodes, ToolName, u)},
		PipelineState: map[string]any{
			"codes_resolved": len(selection.Mappings),
		},
	}, nil
}

// getTableInfo assembles the table info block for the selected schemas.
func (p *Pipeline) getTableInfo(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	scratch := st.SQL
	scratch.TableInfo = p.catalog.TableInfo(scratch.Schemas)
	tables := make([]string, 0)
	for _, schema := range append([]string{ClassificationSchema}, scratch.Schemas...) {
		for _, table := range p.catalog.schemas[schema] {
			tables = append(tables, schema+"."+table.Name)
		}
	}
	return &graph.Update{
		SQL:           &scratch,
		PipelineState: map[string]any{"tables": tables},
	}, nil
}

// generateSQL runs the frontier-tier text-to-SQL call.
func (p *Pipeline) generateSQL(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	client, err := p.registry.ForPrompt(llm.PromptSQLGeneration)
	if err != nil {
		return nil, err
	}

	prompt := prompts.BuildSQLGenerationPrompt(prompts.SQLGenerationInput{
		Question:     st.SQL.Question,
		TopK:         p.topK,
		TableInfo:    st.SQL.TableInfo,
		ProductCodes: FormatProductCodesForPrompt(st.SQL.Codes),
		Direction:    st.Overrides.Direction,
		Mode:         st.Overrides.Mode,
		Context:      st.SQL.Context,
		SQLMaxYear:   p.sqlMaxYear,
	})

	llmStart := time.Now()
	resp, err := client.Invoke(ctx, &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	scratch := st.SQL
	scratch.SQL = stripSQLFences(resp.Content)
	return &graph.Update{
		SQL:        &scratch,
		TokenUsage: []usage.Record{usage.NewRecordFromResponse(NodeGenerateSQL, ToolName, resp)},
		PipelineState: map[string]any{
			"sql": scratch.SQL,
		},
	}, nil
}

// executeSQL runs the generated statement against the warehouse with
// timeout and transient-error retry. Failures become state, not panics:
// last_error is set and format_results reports it to the model.
func (p *Pipeline) executeSQL(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.SQL
	sql := scratch.SQL

	if !isSelectOnly(sql) {
		execErr := &QueryExecutionError{SQL: sql, Err: errors.New("only a single SELECT statement is allowed")}
		msg := execErr.Error()
		scratch.Result = msg
		return &graph.Update{
			SQL:           &scratch,
			LastError:     &msg,
			PipelineState: map[string]any{"success": false, "last_error": msg},
		}, nil
	}

	var result *Result
	ioStart := time.Now()
	err := executeWithRetry(ctx, func() error {
		var queryErr error
		result, queryErr = p.warehouse.Query(ctx, sql)
		return classifyError(sql, queryErr)
	})
	elapsed := time.Since(ioStart)
	t.MarkIO(ioStart)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := err.Error()
		var execErr *QueryExecutionError
		if !errors.As(err, &execErr) {
			msg = fmt.Sprintf("query failed after retries: %v", err)
		}
		scratch.Result = msg
		return &graph.Update{
			SQL:             &scratch,
			LastError:       &msg,
			RetryCountDelta: 1,
			PipelineState:   map[string]any{"success": false, "last_error": msg},
		}, nil
	}

	scratch.Result = formatResult(result)
	scratch.ResultRows = resultRowMaps(result)
	scratch.ResultColumns = result.Columns
	scratch.Tables = referencedTables(sql)
	scratch.ExecutionTimeMS = float64(elapsed) / float64(time.Millisecond)

	clearErr := ""
	return &graph.Update{
		SQL:       &scratch,
		LastError: &clearErr,
		PipelineState: map[string]any{
			"success":           true,
			"row_count":         len(result.Rows),
			"execution_time_ms": scratch.ExecutionTimeMS,
			"tables":            scratch.Tables,
		},
	}, nil
}

// formatResults wraps the execution outcome in a tool result on the
// originating call id and increments the per-turn query counter. Extra
// parallel calls get sequential-execution rejections.
func (p *Pipeline) formatResults(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	calls := st.PendingToolCalls()
	if len(calls) == 0 {
		return nil, fmt.Errorf("format_results: no pending tool calls")
	}

	content := st.SQL.Result
	if st.LastError != "" {
		content = fmt.Sprintf("Query failed: %s\n\nSQL:\n%s\n\nCorrect the query and try again.", st.LastError, st.SQL.SQL)
	} else if content == "" {
		content = EmptyResultMessage
	}

	messages := []llm.Message{{
		Role:       llm.RoleTool,
		Content:    content,
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
		Messages:             messages,
		QueriesExecutedDelta: 1,
		PipelineState: map[string]any{
			"queries_executed": st.QueriesExecuted + 1,
		},
	}, nil
}
