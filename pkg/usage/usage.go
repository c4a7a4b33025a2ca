// Package usage tracks LLM token consumption, cost estimation, and per-node
// timing for the agent graph. Records accumulate on the turn state as nodes
// execute; aggregation and cost estimation run over the lists post-hoc.
package usage

import (
	"math"

	"github.com/growthlab/askatlas/pkg/llm"
)

// Record is a per-node, per-LLM-call token usage entry.
type Record struct {
	Node               string                  `json:"node"`
	ToolPipeline       string                  `json:"tool_pipeline"`
	ModelName          string                  `json:"model_name"`
	InputTokens        int                     `json:"input_tokens"`
	OutputTokens       int                     `json:"output_tokens"`
	TotalTokens        int                     `json:"total_tokens"`
	InputTokenDetails  *llm.InputTokenDetails  `json:"input_token_details,omitempty"`
	OutputTokenDetails *llm.OutputTokenDetails `json:"output_token_details,omitempty"`
}

// NewRecord builds a Record, deriving total tokens when absent.
func NewRecord(node, pipeline string, u llm.Usage) Record {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return Record{
		Node:               node,
		ToolPipeline:       pipeline,
		ModelName:          u.ModelName,
		InputTokens:        u.InputTokens,
		OutputTokens:       u.OutputTokens,
		TotalTokens:        total,
		InputTokenDetails:  u.InputTokenDetails,
		OutputTokenDetails: u.OutputTokenDetails,
	}
}

// NewRecordFromResponse builds a Record from a completed Invoke response.
func NewRecordFromResponse(node, pipeline string, resp *llm.Response) Record {
	if resp == nil {
		return Record{Node: node, ToolPipeline: pipeline}
	}
	return NewRecord(node, pipeline, resp.Usage)
}

// PipelineTotals aggregates token counts for one pipeline.
type PipelineTotals struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	CallCount    int `json:"call_count"`
}

// Aggregate sums usage records by pipeline plus a grand total.
type Aggregate struct {
	ByPipeline map[string]PipelineTotals `json:"by_pipeline"`
	Total      PipelineTotals            `json:"total"`
}

// AggregateUsage aggregates records by tool pipeline.
func AggregateUsage(records []Record) Aggregate {
	agg := Aggregate{ByPipeline: make(map[string]PipelineTotals)}
	for _, rec := range records {
		pipeline := rec.ToolPipeline
		if pipeline == "" {
			pipeline = "unknown"
		}
		totals := agg.ByPipeline[pipeline]
		totals.InputTokens += rec.InputTokens
		totals.OutputTokens += rec.OutputTokens
		totals.TotalTokens += rec.TotalTokens
		totals.CallCount++
		agg.ByPipeline[pipeline] = totals

		agg.Total.InputTokens += rec.InputTokens
		agg.Total.OutputTokens += rec.OutputTokens
		agg.Total.TotalTokens += rec.TotalTokens
		agg.Total.CallCount++
	}
	return agg
}

// CountToolCalls counts tool result messages grouped by tool name.
func CountToolCalls(messages []llm.Message) map[string]int {
	counts := make(map[string]int)
	for _, msg := range messages {
		if msg.Role != llm.RoleTool {
			continue
		}
		name := msg.ToolName
		if name == "" {
			name = "unknown"
		}
		counts[name]++
	}
	return counts
}

// CostEstimate reports estimated spend in USD.
type CostEstimate struct {
	ByPipeline   map[string]float64 `json:"by_pipeline"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	RecordCount  int                `json:"record_count"`
}

// EstimateCost computes the cost of a list of records using cache-aware
// pricing. When a record has input token details, the cached portions are
// billed at their discounted rates and only the fresh remainder at the full
// input rate.
func EstimateCost(records []Record) CostEstimate {
	est := CostEstimate{ByPipeline: make(map[string]float64), RecordCount: len(records)}
	for _, rec := range records {
		cost := estimateRecordCost(rec)
		pipeline := rec.ToolPipeline
		if pipeline == "" {
			pipeline = "unknown"
		}
		est.ByPipeline[pipeline] += cost
		est.TotalCostUSD += cost
	}
	for k, v := range est.ByPipeline {
		est.ByPipeline[k] = roundUSD(v)
	}
	est.TotalCostUSD = roundUSD(est.TotalCostUSD)
	return est
}

func estimateRecordCost(rec Record) float64 {
	pricing := DefaultPricing
	if rec.ModelName != "" {
		pricing = LookupPricing(rec.ModelName)
	}

	var inputCost float64
	if d := rec.InputTokenDetails; d != nil {
		fresh := rec.InputTokens - d.CacheRead - d.CacheCreation
		if fresh < 0 {
			fresh = 0
		}
		cacheReadRate := pricing.CacheRead
		if cacheReadRate == 0 {
			cacheReadRate = pricing.Input
		}
		cacheCreationRate := pricing.CacheCreation
		if cacheCreationRate == 0 {
			cacheCreationRate = pricing.Input
		}
		inputCost = float64(fresh)*pricing.Input +
			float64(d.CacheRead)*cacheReadRate +
			float64(d.CacheCreation)*cacheCreationRate
	} else {
		inputCost = float64(rec.InputTokens) * pricing.Input
	}

	outputCost := float64(rec.OutputTokens) * pricing.Output
	return (inputCost + outputCost) / 1_000_000
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
