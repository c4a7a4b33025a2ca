package graphqltool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/prompts"
	"github.com/growthlab/askatlas/pkg/usage"
)

// ToolName is the GraphQL pipeline's name as exposed to the LLM.
const ToolName = "atlas_graphql"

// ToolDescription is the tool's LLM-facing prose description.
const ToolDescription = "Queries the Atlas GraphQL API for pre-computed metrics. " +
	"Prefer for country profile questions (ECI, rankings, diversification, growth projections) " +
	"and export composition treemaps. Counts against the per-question query budget."

// Pipeline node names.
const (
	NodeExtractQuestion = "extract_graphql_question"
	NodeClassifyQuery   = "classify_query"
	NodeExtractEntities = "extract_entities"
	NodeResolveIDs      = "resolve_ids"
	NodeBuildAndExecute = "build_and_execute_graphql"
	NodeFormatResults   = "format_graphql_results"
)

// Pipeline holds the GraphQL tool's shared dependencies. Read-only after
// construction except the budget, which serializes its own updates.
type Pipeline struct {
	registry    *llm.Registry
	client      *Client
	catalogs    *Catalogs
	budget      *Budget
	defaultYear int
}

// NewPipeline assembles the GraphQL pipeline.
func NewPipeline(registry *llm.Registry, client *Client, catalogs *Catalogs, budget *Budget, defaultYear int) (*Pipeline, error) {
	if registry == nil || client == nil || catalogs == nil || budget == nil {
		return nil, fmt.Errorf("graphql pipeline requires registry, client, catalogs, and budget")
	}
	return &Pipeline{
		registry:    registry,
		client:      client,
		catalogs:    catalogs,
		budget:      budget,
		defaultYear: defaultYear,
	}, nil
}

// Budget returns the pipeline's request budget for the agent node.
func (p *Pipeline) Budget() *Budget { return p.budget }

// Tool returns the pipeline's dossier for the executor.
func (p *Pipeline) Tool() graph.Tool {
	return graph.Tool{
		Name:                ToolName,
		Description:         ToolDescription,
		ArgsSchema:          graph.ToolArgsSchema(),
		CountsAgainstBudget: true,
		Nodes: []graph.Node{
			{Name: NodeExtractQuestion, Label: "Reading question", Run: p.extractQuestion},
			{Name: NodeClassifyQuery, Label: "Classifying query", Run: p.classifyQuery},
			{Name: NodeExtractEntities, Label: "Extracting entities", Run: p.extractEntities},
			{Name: NodeResolveIDs, Label: "Resolving IDs", Run: p.resolveIDs},
			{Name: NodeBuildAndExecute, Label: "Calling Atlas API", Run: p.buildAndExecute},
			{Name: NodeFormatResults, Label: "Formatting results", Run: p.formatResults},
		},
	}
}

func (p *Pipeline) extractQuestion(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	question, toolContext, calls := graph.FirstToolCallArgs(st)
	if len(calls) == 0 {
		return nil, fmt.Errorf("extract_graphql_question: no pending tool calls")
	}
	if len(calls) > 1 {
		slog.Warn("Parallel tool calls received; only the first will be executed",
			"count", len(calls))
	}
	scratch := graph.GraphQLScratch{Question: question, Context: toolContext}
	return &graph.Update{
		GQL:           &scratch,
		PipelineState: map[string]any{"question": question},
	}, nil
}

type classification struct {
	QueryType       string `json:"query_type"`
	IsRejected      bool   `json:"is_rejected"`
	RejectionReason string `json:"rejection_reason"`
}

var classificationSchema = llm.Schema{
	Name:        "query_classification",
	Description: "The Atlas GraphQL query type for the question.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query_type": map[string]any{
				"type": "string",
				"enum": []any{
					QueryCountryProfile, QueryTreemapProducts, QueryTreemapPartners,
					QueryNewProducts, QueryCountryGrowth, QueryProductSpaceRCA, QueryOutOfScope,
				},
			},
			"is_rejected":      map[string]any{"type": "boolean"},
			"rejection_reason": map[string]any{"type": "string"},
		},
		"required": []any{"query_type", "is_rejected"},
	},
}

func (p *Pipeline) classifyQuery(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	client, err := p.registry.ForPrompt(llm.PromptGraphQLClassification)
	if err != nil {
		return nil, err
	}

	var out classification
	prompt := prompts.BuildGraphQLClassificationPrompt(st.GQL.Question, st.GQL.Context)
	llmStart := time.Now()
	u, err := client.InvokeStructured(ctx, prompt, classificationSchema, &out)
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	scratch := st.GQL
	scratch.QueryType = out.QueryType
	scratch.IsRejected = out.IsRejected || out.QueryType == QueryOutOfScope
	scratch.RejectionReason = out.RejectionReason

	return &graph.Update{
		GQL:        &scratch,
		TokenUsage: []usage.Record{usage.NewRecord(NodeClassifyQuery, ToolName, u)},
		PipelineState: map[string]any{
			"query_type":  out.QueryType,
			"is_rejected": scratch.IsRejected,
		},
	}, nil
}

type extractedEntities struct {
	Country          string `json:"country"`
	PartnerCountry   string `json:"partner_country"`
	Product          string `json:"product"`
	Year             string `json:"year"`
	Direction        string `json:"direction"`
	ServicesCategory string `json:"services_category"`
}

var entitiesSchema = llm.Schema{
	Name:        "extracted_entities",
	Description: "Entities mentioned in the question.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"country":           map[string]any{"type": "string"},
			"partner_country":   map[string]any{"type": "string"},
			"product":           map[string]any{"type": "string"},
			"year":              map[string]any{"type": "string"},
			"direction":         map[string]any{"type": "string", "enum": []any{"exports", "imports", ""}},
			"services_category": map[string]any{"type": "string"},
		},
		"required": []any{"country"},
	},
}

func (p *Pipeline) extractEntities(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.GQL
	if scratch.IsRejected {
		return &graph.Update{GQL: &scratch, PipelineState: map[string]any{"skipped": true}}, nil
	}

	client, err := p.registry.ForPrompt(llm.PromptGraphQLEntityExtract)
	if err != nil {
		return nil, err
	}

	servicesCatalog := ""
	if len(p.catalogs.ServicesCategories) > 0 {
		servicesCatalog = strings.Join(p.catalogs.ServicesCategories, ", ")
	}

	var out extractedEntities
	prompt := prompts.BuildGraphQLEntityExtractionPrompt(scratch.QueryType, scratch.Question, scratch.Context, servicesCatalog)
	llmStart := time.Now()
	u, err := client.InvokeStructured(ctx, prompt, entitiesSchema, &out)
	t.MarkLLM(llmStart)
	if err != nil {
		return nil, err
	}

	entities := map[string]string{}
	if out.Country != "" {
		entities["country"] = out.Country
	}
	if out.PartnerCountry != "" {
		entities["partner_country"] = out.PartnerCountry
	}
	if out.Product != "" {
		entities["product"] = out.Product
	}
	if out.Year != "" {
		entities["year"] = out.Year
	}
	if out.Direction != "" {
		entities["direction"] = out.Direction
	}
	if out.ServicesCategory != "" {
		entities["services_category"] = out.ServicesCategory
	}
	scratch.Entities = entities

	return &graph.Update{
		GQL:           &scratch,
		TokenUsage:    []usage.Record{usage.NewRecord(NodeExtractEntities, ToolName, u)},
		PipelineState: map[string]any{"entities": entities},
	}, nil
}

type idSelection struct {
	SelectedID string `json:"selected_id"`
}

var idSelectionSchema = llm.Schema{
	Name:        "id_selection",
	Description: "The catalog ID of the best matching candidate.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selected_id": map[string]any{"type": "string"},
		},
		"required": []any{"selected_id"},
	},
}

// resolveIDs maps extracted entity mentions to canonical catalog IDs:
// exact match, then fuzzy match, then an LLM pick when multiple candidates
// remain.
func (p *Pipeline) resolveIDs(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.GQL
	if scratch.IsRejected {
		return &graph.Update{GQL: &scratch, PipelineState: map[string]any{"skipped": true}}, nil
	}

	resolved := map[string]string{}
	var records []usage.Record

	resolveEntity := func(entityKey, idKey string, matches []Match) error {
		mention := scratch.Entities[entityKey]
		if mention == "" {
			return nil
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("could not resolve %s %q in the catalog", entityKey, mention)
		case 1:
			resolved[idKey] = matches[0].ID
			return nil
		}

		client, err := p.registry.ForPrompt(llm.PromptIDResolutionSelection)
		if err != nil {
			return err
		}
		var selection idSelection
		prompt := prompts.BuildIDResolutionPrompt(entityKey, mention, FormatMatches(matches), scratch.Question)
		llmStart := time.Now()
		u, err := client.InvokeStructured(ctx, prompt, idSelectionSchema, &selection)
		t.MarkLLM(llmStart)
		if err != nil {
			return err
		}
		records = append(records, usage.NewRecord(NodeResolveIDs, ToolName, u))
		for _, m := range matches {
			if m.ID == selection.SelectedID {
				resolved[idKey] = m.ID
				return nil
			}
		}
		resolved[idKey] = matches[0].ID
		return nil
	}

	err := resolveEntity("country", "country_id", p.catalogs.ResolveCountry(scratch.Entities["country"]))
	if err == nil {
		err = resolveEntity("partner_country", "partner_country_id", p.catalogs.ResolveCountry(scratch.Entities["partner_country"]))
	}
	if err == nil {
		err = resolveEntity("product", "product_id", p.catalogs.ResolveProduct(scratch.Entities["product"], ""))
	}
	if err != nil {
		var invErr *llm.InvocationError
		if errors.As(err, &invErr) {
			return nil, err
		}
		scratch.IsRejected = true
		scratch.RejectionReason = err.Error()
		return &graph.Update{
			GQL:           &scratch,
			TokenUsage:    records,
			PipelineState: map[string]any{"resolved_ids": resolved, "last_error": err.Error()},
		}, nil
	}

	scratch.ResolvedIDs = resolved
	return &graph.Update{
		GQL:           &scratch,
		TokenUsage:    records,
		PipelineState: map[string]any{"resolved_ids": resolved},
	}, nil
}

// buildAndExecute chooses the sub-API, builds the query from the fixed
// template set, and posts it. GraphQL errors are recorded, never retried.
func (p *Pipeline) buildAndExecute(ctx context.Context, st *graph.State, t *usage.Timer) (*graph.Update, error) {
	scratch := st.GQL
	if scratch.IsRejected {
		reason := scratch.RejectionReason
		if reason == "" {
			reason = "the question cannot be answered via the Atlas GraphQL API"
		}
		scratch.Success = false
		return &graph.Update{
			GQL:           &scratch,
			LastError:     &reason,
			PipelineState: map[string]any{"success": false, "last_error": reason},
		}, nil
	}

	target, err := apiTargetFor(scratch.QueryType)
	if err != nil {
		msg := err.Error()
		scratch.Success = false
		return &graph.Update{
			GQL:           &scratch,
			LastError:     &msg,
			PipelineState: map[string]any{"success": false, "last_error": msg},
		}, nil
	}
	scratch.APITarget = target

	year := p.defaultYear
	if y, err := strconv.Atoi(scratch.Entities["year"]); err == nil {
		year = y
	}
	query, variables, err := buildQuery(scratch.QueryType, scratch.ResolvedIDs, year, scratch.Entities["direction"])
	if err != nil {
		msg := err.Error()
		scratch.Success = false
		return &graph.Update{
			GQL:           &scratch,
			LastError:     &msg,
			PipelineState: map[string]any{"success": false, "last_error": msg},
		}, nil
	}

	if !p.budget.Consume() {
		msg := "GraphQL request budget exhausted"
		scratch.Success = false
		return &graph.Update{
			GQL:           &scratch,
			LastError:     &msg,
			PipelineState: map[string]any{"success": false, "last_error": msg},
		}, nil
	}

	ioStart := time.Now()
	payload, err := p.client.Post(ctx, query, variables)
	elapsed := time.Since(ioStart)
	t.MarkIO(ioStart)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := err.Error()
		scratch.Success = false
		return &graph.Update{
			GQL:       &scratch,
			LastError: &msg,
			PipelineState: map[string]any{
				"api_target": target,
				"success":    false,
				"last_error": msg,
			},
		}, nil
	}

	scratch.Success = true
	scratch.Response = payload
	scratch.ExecutionTimeMS = float64(elapsed) / float64(time.Millisecond)
	clearErr := ""
	return &graph.Update{
		GQL:       &scratch,
		LastError: &clearErr,
		PipelineState: map[string]any{
			"api_target":        target,
			"success":           true,
			"execution_time_ms": scratch.ExecutionTimeMS,
		},
	}, nil
}

// formatResults derives the human-readable summary and atlas links, emits
// the tool result, and increments the per-turn query counter.
func (p *Pipeline) formatResults(_ context.Context, st *graph.State, _ *usage.Timer) (*graph.Update, error) {
	calls := st.PendingToolCalls()
	if len(calls) == 0 {
		return nil, fmt.Errorf("format_graphql_results: no pending tool calls")
	}

	scratch := st.GQL
	var content string
	if !scratch.Success {
		reason := st.LastError
		if reason == "" {
			reason = scratch.RejectionReason
		}
		content = fmt.Sprintf("GraphQL query failed: %s", reason)
	} else {
		summary, links := formatResponse(scratch.QueryType, scratch.Response, scratch.ResolvedIDs, scratch.Entities)
		scratch.AtlasLinks = links
		scratch.Formatted = summary

		var b strings.Builder
		b.WriteString(summary)
		if len(links) > 0 {
			b.WriteString("\n\nAtlas links:\n")
			for _, link := range links {
				fmt.Fprintf(&b, "- %s: %s\n", link.Label, link.URL)
			}
		}
		content = strings.TrimRight(b.String(), "\n")
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
		GQL:                  &scratch,
		QueriesExecutedDelta: 1,
		PipelineState: map[string]any{
			"success":          scratch.Success,
			"atlas_links":      len(scratch.AtlasLinks),
			"queries_executed": st.QueriesExecuted + 1,
		},
	}, nil
}
