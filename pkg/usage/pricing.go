package usage

import "regexp"

// ModelPricing holds per-1M-token rates in USD.
type ModelPricing struct {
	Input         float64
	Output        float64
	CacheRead     float64
	CacheCreation float64
}

// modelPricing maps known model identifiers to their rates.
// Cache rates follow each provider's published discounts: cache reads run
// 10% of input (25% for the gpt-4.1 family), cache creation 125%
// (Anthropic) or parity (others).
var modelPricing = map[string]ModelPricing{
	// Anthropic
	"claude-opus-4-6-20260204":   {Input: 5.00, Output: 25.00, CacheRead: 0.50, CacheCreation: 6.25},
	"claude-sonnet-4-6-20260217": {Input: 3.00, Output: 15.00, CacheRead: 0.30, CacheCreation: 3.75},
	"claude-sonnet-4-20250514":   {Input: 3.00, Output: 15.00, CacheRead: 0.30, CacheCreation: 3.75},
	"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheRead: 0.10, CacheCreation: 1.25},
	// OpenAI
	"gpt-5.3-codex": {Input: 1.75, Output: 14.00, CacheRead: 0.175, CacheCreation: 1.75},
	"gpt-5.2":       {Input: 1.75, Output: 14.00, CacheRead: 0.175, CacheCreation: 1.75},
	"gpt-5":         {Input: 1.25, Output: 10.00, CacheRead: 0.125, CacheCreation: 1.25},
	"gpt-5-mini":    {Input: 0.25, Output: 2.00, CacheRead: 0.025, CacheCreation: 0.25},
	"gpt-4.1":       {Input: 2.00, Output: 8.00, CacheRead: 0.50, CacheCreation: 2.00},
	"gpt-4.1-mini":  {Input: 0.40, Output: 1.60, CacheRead: 0.10, CacheCreation: 0.40},
	// Google
	"gemini-3.1-pro":   {Input: 2.00, Output: 12.00, CacheRead: 0.20, CacheCreation: 2.00},
	"gemini-2.5-pro":   {Input: 1.25, Output: 10.00, CacheRead: 0.125, CacheCreation: 1.25},
	"gemini-3-flash":   {Input: 0.50, Output: 3.00, CacheRead: 0.05, CacheCreation: 0.50},
	"gemini-2.5-flash": {Input: 0.30, Output: 2.50, CacheRead: 0.03, CacheCreation: 0.30},
}

// DefaultPricing is used for model names with no pricing entry.
var DefaultPricing = ModelPricing{Input: 1.00, Output: 5.00, CacheRead: 0.10, CacheCreation: 1.25}

// Date-suffix pattern: "gpt-5.2-2025-12-19" resolves to "gpt-5.2".
var dateSuffixRe = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`)

// LookupPricing resolves pricing for a model name. Exact match first, then
// a retry with any trailing -YYYY-MM-DD suffix stripped, then DefaultPricing.
func LookupPricing(modelName string) ModelPricing {
	if p, ok := modelPricing[modelName]; ok {
		return p
	}
	stripped := dateSuffixRe.ReplaceAllString(modelName, "")
	if stripped != modelName {
		if p, ok := modelPricing[stripped]; ok {
			return p
		}
	}
	return DefaultPricing
}
