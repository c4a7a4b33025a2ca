package llm

import (
	"fmt"
	"sort"
)

// Model tiers. Each named prompt resolves to one of these; the tier in turn
// resolves to a concrete provider and model from configuration.
const (
	TierFrontier    = "frontier"
	TierLightweight = "lightweight"
)

// Prompt keys known to the registry.
const (
	PromptAgentSystem            = "agent_system_prompt"
	PromptSQLGeneration          = "sql_generation"
	PromptGraphQLClassification  = "graphql_classification"
	PromptGraphQLEntityExtract   = "graphql_entity_extraction"
	PromptIDResolutionSelection  = "id_resolution_selection"
	PromptProductExtraction      = "product_extraction"
	PromptProductCodeSelection   = "product_code_selection"
	PromptDocumentSelection      = "document_selection"
	PromptDocumentationSynthesis = "documentation_synthesis"
)

// DefaultAssignments maps each prompt key to its default tier.
var DefaultAssignments = map[string]string{
	PromptAgentSystem:            TierFrontier,
	PromptSQLGeneration:          TierFrontier,
	PromptGraphQLClassification:  TierLightweight,
	PromptGraphQLEntityExtract:   TierLightweight,
	PromptIDResolutionSelection:  TierLightweight,
	PromptProductExtraction:      TierLightweight,
	PromptProductCodeSelection:   TierLightweight,
	PromptDocumentSelection:      TierLightweight,
	PromptDocumentationSynthesis: TierLightweight,
}

// Registry resolves named prompts to model clients by tier.
type Registry struct {
	frontier    Client
	lightweight Client
	assignments map[string]string
}

// NewRegistry builds a Registry. Assignments missing from the provided map
// fall back to DefaultAssignments; values other than "frontier" or
// "lightweight" are rejected.
func NewRegistry(frontier, lightweight Client, assignments map[string]string) (*Registry, error) {
	if frontier == nil || lightweight == nil {
		return nil, fmt.Errorf("registry requires both frontier and lightweight clients")
	}
	merged := make(map[string]string, len(DefaultAssignments))
	for k, v := range DefaultAssignments {
		merged[k] = v
	}
	for k, v := range assignments {
		if v != TierFrontier && v != TierLightweight {
			return nil, fmt.Errorf("prompt %q assigned to unknown tier %q", k, v)
		}
		merged[k] = v
	}
	return &Registry{frontier: frontier, lightweight: lightweight, assignments: merged}, nil
}

// ForPrompt returns the client for the given prompt key.
func (r *Registry) ForPrompt(key string) (Client, error) {
	tier, ok := r.assignments[key]
	if !ok {
		keys := make([]string, 0, len(r.assignments))
		for k := range r.assignments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown prompt key %q (available: %v)", key, keys)
	}
	if tier == TierFrontier {
		return r.frontier, nil
	}
	return r.lightweight, nil
}

// Frontier returns the frontier-tier client.
func (r *Registry) Frontier() Client { return r.frontier }

// Lightweight returns the lightweight-tier client.
func (r *Registry) Lightweight() Client { return r.lightweight }
