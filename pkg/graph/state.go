// Package graph implements the agent-and-pipeline orchestrator: a durable,
// streaming, checkpointed graph executor that routes a conversational turn
// through the tool-selecting agent node and the tool pipelines. The turn
// state is rehydrated per turn from a checkpoint keyed by thread_id,
// merged node by node, and re-checkpointed after each step.
package graph

import (
	"encoding/json"

	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/usage"
)

// ProductMention is a product name found in the question without explicit
// codes, with the model's candidate code suggestions.
type ProductMention struct {
	Name                 string   `json:"name"`
	ClassificationSchema string   `json:"classification_schema"`
	CandidateCodes       []string `json:"candidate_codes"`
}

// ProductCodes is a finalized product-name-to-codes mapping.
type ProductCodes struct {
	ProductName          string   `json:"product_name"`
	ClassificationSchema string   `json:"classification_schema"`
	Codes                []string `json:"codes"`
}

// AtlasLink is a deep link into the public Atlas visualization site.
type AtlasLink struct {
	URL      string `json:"url"`
	Label    string `json:"label"`
	LinkType string `json:"link_type"`
}

// SQLScratch holds the SQL pipeline's per-turn working fields.
type SQLScratch struct {
	Question        string           `json:"pipeline_question"`
	Context         string           `json:"pipeline_context"`
	Schemas         []string         `json:"pipeline_schemas,omitempty"`
	Products        []ProductMention `json:"pipeline_products,omitempty"`
	Codes           []ProductCodes   `json:"pipeline_codes,omitempty"`
	TableInfo       string           `json:"pipeline_table_info,omitempty"`
	SQL             string           `json:"pipeline_sql,omitempty"`
	Result          string           `json:"pipeline_result,omitempty"`
	ResultRows      []map[string]any `json:"pipeline_result_rows,omitempty"`
	ResultColumns   []string         `json:"pipeline_result_columns,omitempty"`
	Tables          []string         `json:"pipeline_tables,omitempty"`
	ExecutionTimeMS float64          `json:"pipeline_execution_time_ms,omitempty"`
}

// GraphQLScratch holds the GraphQL pipeline's per-turn working fields.
type GraphQLScratch struct {
	Question        string            `json:"gql_question"`
	Context         string            `json:"gql_context"`
	QueryType       string            `json:"gql_query_type,omitempty"`
	IsRejected      bool              `json:"gql_is_rejected,omitempty"`
	RejectionReason string            `json:"gql_rejection_reason,omitempty"`
	Entities        map[string]string `json:"gql_entities,omitempty"`
	ResolvedIDs     map[string]string `json:"gql_resolved_ids,omitempty"`
	APITarget       string            `json:"gql_api_target,omitempty"`
	Response        json.RawMessage   `json:"gql_response,omitempty"`
	Formatted       string            `json:"gql_formatted,omitempty"`
	AtlasLinks      []AtlasLink       `json:"gql_atlas_links,omitempty"`
	Success         bool              `json:"gql_success,omitempty"`
	ExecutionTimeMS float64           `json:"gql_execution_time_ms,omitempty"`
}

// DocsScratch holds the docs pipeline's per-turn working fields.
type DocsScratch struct {
	Question      string   `json:"docs_question"`
	Context       string   `json:"docs_context"`
	SelectedFiles []string `json:"docs_selected_files,omitempty"`
	Synthesis     string   `json:"docs_synthesis,omitempty"`
}

// Overrides are optional caller-supplied constraints pinning SQL generation
// to a specific classification system, trade direction, or trade mode.
type Overrides struct {
	Schema    string `json:"override_schema,omitempty"`
	Direction string `json:"override_direction,omitempty"`
	Mode      string `json:"override_mode,omitempty"`
}

// State is the per-turn record threaded through the graph. Messages is the
// canonical conversation log; scratchpads are ephemeral per turn but
// survive across nodes within the turn.
type State struct {
	Messages        []llm.Message `json:"messages"`
	QueriesExecuted int           `json:"queries_executed"`
	LastError       string        `json:"last_error,omitempty"`
	RetryCount      int           `json:"retry_count,omitempty"`

	SQL  SQLScratch     `json:"sql"`
	GQL  GraphQLScratch `json:"gql"`
	Docs DocsScratch    `json:"docs"`

	Overrides Overrides `json:"overrides"`

	TokenUsage []usage.Record       `json:"token_usage,omitempty"`
	StepTiming []usage.TimingRecord `json:"step_timing,omitempty"`
}

// LastMessage returns the most recent message, or nil when empty.
func (s *State) LastMessage() *llm.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// PendingToolCalls returns the tool calls of the last message when it is an
// assistant message requesting tools, or nil.
func (s *State) PendingToolCalls() []llm.ToolCall {
	last := s.LastMessage()
	if last == nil || last.Role != llm.RoleAssistant {
		return nil
	}
	return last.ToolCalls
}

// Update is a node's partial state update. Nil fields leave the state
// untouched; slices append; scratchpad pointers replace the whole
// scratchpad.
type Update struct {
	Messages             []llm.Message
	QueriesExecutedDelta int
	LastError            *string
	RetryCountDelta      int

	SQL  *SQLScratch
	GQL  *GraphQLScratch
	Docs *DocsScratch

	TokenUsage []usage.Record
	StepTiming []usage.TimingRecord

	// PipelineState is the structured payload carried by this node's
	// pipeline_state stream event. Not persisted.
	PipelineState map[string]any
}

// Merge applies an update to the state.
func (s *State) Merge(u *Update) {
	if u == nil {
		return
	}
	s.Messages = append(s.Messages, u.Messages...)
	s.QueriesExecuted += u.QueriesExecutedDelta
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	s.RetryCount += u.RetryCountDelta
	if u.SQL != nil {
		s.SQL = *u.SQL
	}
	if u.GQL != nil {
		s.GQL = *u.GQL
	}
	if u.Docs != nil {
		s.Docs = *u.Docs
	}
	s.TokenUsage = append(s.TokenUsage, u.TokenUsage...)
	s.StepTiming = append(s.StepTiming, u.StepTiming...)
}

// ResetForTurn clears per-turn counters and scratchpads before a new turn.
func (s *State) ResetForTurn() {
	s.QueriesExecuted = 0
	s.LastError = ""
	s.RetryCount = 0
	s.SQL = SQLScratch{}
	s.GQL = GraphQLScratch{}
	s.Docs = DocsScratch{}
	s.TokenUsage = nil
	s.StepTiming = nil
}
