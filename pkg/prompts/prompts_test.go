package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAgentSystemPromptBaseOnly(t *testing.T) {
	prompt := BuildAgentSystemPrompt(AgentSystemInput{
		MaxQueries:   5,
		TopKPerQuery: 15,
	})
	assert.Contains(t, prompt, "at most 5 data queries")
	assert.Contains(t, prompt, "up to 15 rows")
	assert.NotContains(t, prompt, "atlas_graphql")
	assert.NotContains(t, prompt, "docs_tool")
}

func TestBuildAgentSystemPromptDualTool(t *testing.T) {
	prompt := BuildAgentSystemPrompt(AgentSystemInput{
		MaxQueries:     5,
		TopKPerQuery:   15,
		IncludeGraphQL: true,
		BudgetUsed:     3,
		BudgetMax:      10,
		SQLMaxYear:     2023,
		GraphQLMaxYear: 2022,
	})
	assert.Contains(t, prompt, "atlas_graphql")
	assert.Contains(t, prompt, "7 of 10")
	assert.Contains(t, prompt, "2023")
	assert.Contains(t, prompt, "2022")
}

func TestBuildAgentSystemPromptBudgetNeverNegative(t *testing.T) {
	prompt := BuildAgentSystemPrompt(AgentSystemInput{
		MaxQueries:     5,
		TopKPerQuery:   15,
		IncludeGraphQL: true,
		BudgetUsed:     12,
		BudgetMax:      10,
	})
	assert.Contains(t, prompt, "0 of 10")
}

func TestBuildAgentSystemPromptDocsExtension(t *testing.T) {
	prompt := BuildAgentSystemPrompt(AgentSystemInput{
		MaxQueries:   5,
		TopKPerQuery: 15,
		IncludeDocs:  true,
	})
	assert.Contains(t, prompt, "docs_tool")
	assert.Contains(t, prompt, "does not count against your query budget")
}

func TestBuildSQLGenerationPromptOptionalBlocks(t *testing.T) {
	base := SQLGenerationInput{
		Question:   "Top 5 US exports to China in 2022?",
		TopK:       15,
		TableInfo:  "Table: hs92.country_country_product_year_4",
		SQLMaxYear: 2023,
	}

	t.Run("no optional blocks", func(t *testing.T) {
		prompt := BuildSQLGenerationPrompt(base)
		assert.Contains(t, prompt, "at most 15 rows")
		assert.Contains(t, prompt, "hs92.country_country_product_year_4")
		assert.NotContains(t, prompt, "pinned the trade direction")
		assert.NotContains(t, prompt, "pinned the trade mode")
		assert.NotContains(t, prompt, "Technical context")
	})

	t.Run("direction override", func(t *testing.T) {
		in := base
		in.Direction = "exports"
		prompt := BuildSQLGenerationPrompt(in)
		assert.Contains(t, prompt, "Only consider exports")
	})

	t.Run("mode override", func(t *testing.T) {
		in := base
		in.Mode = "services"
		prompt := BuildSQLGenerationPrompt(in)
		assert.Contains(t, prompt, "Only consider trade in services")
	})

	t.Run("product codes and context", func(t *testing.T) {
		in := base
		in.ProductCodes = "\nProduct name to product code mappings:\n- cotton: [5201]\n"
		in.Context = "Use 4-digit codes."
		prompt := BuildSQLGenerationPrompt(in)
		assert.Contains(t, prompt, "cotton: [5201]")
		assert.Contains(t, prompt, "Use 4-digit codes.")
	})
}

func TestBuildProductExtractionPrompt(t *testing.T) {
	prompt := BuildProductExtractionPrompt("How much cotton did Brazil export?", "")
	assert.Contains(t, prompt, "hs92 by default")
	assert.Contains(t, prompt, "How much cotton did Brazil export?")
	assert.NotContains(t, prompt, "Context:")

	withCtx := BuildProductExtractionPrompt("q", "user wants services detail")
	assert.Contains(t, withCtx, "Context: user wants services detail")
}

func TestBuildGraphQLClassificationPrompt(t *testing.T) {
	prompt := BuildGraphQLClassificationPrompt("What is Brazil's ECI rank?", "")
	for _, queryType := range []string{
		"country_profile", "treemap_products", "treemap_partners",
		"new_products", "country_growth", "product_space_rca", "out_of_scope",
	} {
		assert.Contains(t, prompt, queryType)
	}
}

func TestBuildGraphQLEntityExtractionPromptServicesCatalog(t *testing.T) {
	withServices := BuildGraphQLEntityExtractionPrompt(
		"treemap_products", "Brazil services exports?", "", "travel, transport, ICT")
	assert.Contains(t, withServices, "services_category")
	assert.Contains(t, withServices, "travel, transport, ICT")

	without := BuildGraphQLEntityExtractionPrompt("country_profile", "Brazil profile?", "", "")
	assert.NotContains(t, without, "services_category")
}

func TestBuildDocumentSelectionPrompt(t *testing.T) {
	prompt := BuildDocumentSelectionPrompt("What is ECI?", "", "[0] ECI methods", 2)
	assert.Contains(t, prompt, "at most 2 documents")
	assert.Contains(t, prompt, "[0] ECI methods")
}

func TestBuildDocumentationSynthesisPrompt(t *testing.T) {
	prompt := BuildDocumentationSynthesisPrompt("What is ECI?", "definition needed", "--- ECI ---\nbody")
	assert.Contains(t, prompt, "ONLY the documentation provided")
	assert.Contains(t, prompt, "Context: definition needed")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "body"))
}

func TestBuildIDResolutionPrompt(t *testing.T) {
	prompt := BuildIDResolutionPrompt("country", "Korea", "- 410: South Korea\n- 408: North Korea", "Korea's exports?")
	assert.Contains(t, prompt, `country "Korea"`)
	assert.Contains(t, prompt, "South Korea")
}
