// Package prompts is the central prompt registry for the Ask-Atlas agent.
// All LLM prompt text lives here; pipeline packages import these constants
// and builders rather than defining prompts inline. This package imports
// nothing from the rest of the core so the prompt catalog can never create
// an import cycle.
package prompts

import (
	"fmt"
	"strings"
)

// --- Agent system prompt -------------------------------------------------

// agentSystemBase is the base system template for the tool-selecting agent.
const agentSystemBase = `You are Ask-Atlas, an expert assistant for the Atlas of Economic Complexity trade data.

You answer questions about international trade in goods and services using the tools provided. Rules:

- Use query_tool to run read-only SQL against the Atlas warehouse for data questions.
- Never fabricate data. Every number in your answer must come from a tool result.
- If a question is not about trade data, economic complexity, or the Atlas, politely decline to answer and explain what you can help with. Do not call any tool for out-of-scope questions.
- If a tool call fails, read the error, correct your request, and try again.
- When you have enough data, answer directly in clear prose with specific values.
- You may use at most %d data queries per question, returning up to %d rows each. Plan your queries to stay within this limit.`

// agentDualToolExtension is appended when the GraphQL tool is available.
const agentDualToolExtension = `

You also have atlas_graphql, which returns pre-computed country metrics from the Atlas API. Prefer atlas_graphql for country profiles (ECI, rankings, growth projections, diversification) and export composition treemaps; prefer query_tool for custom aggregations, bilateral detail, and product-level analysis.

GraphQL request budget remaining: %d of %d.

Data coverage: SQL warehouse data runs through %d; the GraphQL API runs through %d. For years beyond one source's coverage, use the other.`

// agentDocsExtension is appended when the docs tool is available.
const agentDocsExtension = `

You also have docs_tool, which retrieves methodology documentation (metric definitions, data cleaning, classification systems, visualization reproduction). It does not count against your query budget. Use it when asked what a metric means or how the data is built, and to look up conventions before writing complex queries.`

// AgentSystemInput carries the values injected into the agent system prompt.
type AgentSystemInput struct {
	MaxQueries     int
	TopKPerQuery   int
	IncludeGraphQL bool
	IncludeDocs    bool
	BudgetUsed     int
	BudgetMax      int
	SQLMaxYear     int
	GraphQLMaxYear int
}

// BuildAgentSystemPrompt assembles the agent system prompt from the base
// template plus the optional dual-tool and docs extensions.
func BuildAgentSystemPrompt(in AgentSystemInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, agentSystemBase, in.MaxQueries, in.TopKPerQuery)
	if in.IncludeGraphQL {
		remaining := in.BudgetMax - in.BudgetUsed
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(&b, agentDualToolExtension, remaining, in.BudgetMax, in.SQLMaxYear, in.GraphQLMaxYear)
	}
	if in.IncludeDocs {
		b.WriteString(agentDocsExtension)
	}
	return b.String()
}

// --- SQL pipeline --------------------------------------------------------

// productExtractionPrompt asks which classification schemas apply and which
// product names need code lookups. Placeholders: question, context block.
const productExtractionPrompt = `Analyze the user's question about trade data.

First, choose the most relevant classification schema(s):

hs92: Trade data for goods, in HS 1992 product classification
hs12: Trade data for goods, in HS 2012 product classification
sitc: Trade data for goods, in SITC product classification
services_unilateral: Services trade with exporter-product-year data. Use when the question asks about services for a specific country.
services_bilateral: Services trade with exporter-importer-product-year data. Use when the question asks about services trade between two specific countries.

If no product classification is mentioned, use hs92 by default. For most questions return only one schema; include both a goods and a services schema only when the question clearly asks about goods AND services. Never return more than two schemas.

Second, identify product names that are mentioned WITHOUT explicit product codes. Ignore mentions that already specify codes (e.g. "cars (HS 87)"). For each such product, suggest candidate codes from the chosen classification at the most specific level you know.

Examples:
Question: "What were US exports of cars and vehicles (HS 87) in 2020?"
-> schemas ["hs92"], no product lookups needed.

Question: "How much cotton and wheat did Brazil export in 2021?"
-> schemas ["hs92"], products: cotton (candidates 5201, 5202, 5203), wheat (candidates 1001).

Question: "What did the US export in 2022, both in goods and services?"
-> schemas ["hs92", "services_unilateral"], no product lookups needed.

%sQuestion: %s`

// BuildProductExtractionPrompt formats the schema/product extraction prompt.
func BuildProductExtractionPrompt(question, context string) string {
	return fmt.Sprintf(productExtractionPrompt, contextBlock(context), question)
}

// productCodeSelectionPrompt picks final codes from combined candidates.
// Placeholders: question, formatted search results.
const productCodeSelectionPrompt = `Select the most appropriate product code(s) for each product name based on the user's question and the candidate codes below.

Choose the most accurate match for the specific context. Include only products that have clear matches; if a product name is too ambiguous or has no good candidates, exclude it from the final mapping.

Question: %s

Search results for each product:
%s

Return the final mapping of product names to product codes.`

// BuildProductCodeSelectionPrompt formats the final code selection prompt.
func BuildProductCodeSelectionPrompt(question, searchResults string) string {
	return fmt.Sprintf(productCodeSelectionPrompt, question, searchResults)
}

// sqlGenerationPrompt is the frontier-tier text-to-SQL prompt.
const sqlGenerationPrompt = `You are an expert PostgreSQL analyst writing queries against the Atlas of Economic Complexity warehouse.

Write a single SELECT statement answering the user's question. Rules:
- SELECT only. Never write INSERT, UPDATE, DELETE, DDL, or multiple statements.
- Limit results to at most %d rows.
- Trade values are in current US dollars. Export and import values are reported from the exporter's perspective unless the question says otherwise.
- Use 4-digit HS codes by default when no aggregation level is specified.
- Country identities live in classification.location_country; join on country_id. Product names live in the classification product tables; join on product_id.
- Data coverage ends in %d. If the question asks about a later year, use the latest available year and say so via column naming.
- Return ONLY the SQL, no commentary and no markdown fences.

Available tables:
%s
%s%s%s%s
Question: %s

SQL:`

// SQLGenerationInput carries the values injected into the SQL prompt.
type SQLGenerationInput struct {
	Question     string
	TopK         int
	TableInfo    string
	ProductCodes string // pre-formatted block, may be empty
	Direction    string // "exports", "imports", or empty
	Mode         string // "goods", "services", or empty
	Context      string // technical context from the agent, may be empty
	SQLMaxYear   int
}

// BuildSQLGenerationPrompt assembles the text-to-SQL prompt. Optional
// blocks are inserted only when their inputs are present.
func BuildSQLGenerationPrompt(in SQLGenerationInput) string {
	var direction, mode, contextStr string
	if in.Direction != "" {
		direction = fmt.Sprintf("\nOnly consider %s when answering; the caller has pinned the trade direction.\n", in.Direction)
	}
	if in.Mode != "" {
		mode = fmt.Sprintf("\nOnly consider trade in %s; the caller has pinned the trade mode.\n", in.Mode)
	}
	if in.Context != "" {
		contextStr = fmt.Sprintf("\nTechnical context from the orchestrating agent:\n%s\n", in.Context)
	}
	return fmt.Sprintf(sqlGenerationPrompt,
		in.TopK, in.SQLMaxYear, in.TableInfo, in.ProductCodes, direction, mode, contextStr, in.Question)
}

// --- GraphQL pipeline ----------------------------------------------------

// graphqlClassificationPrompt maps a question to one of the supported
// GraphQL query types. Placeholders: context block, question.
const graphqlClassificationPrompt = `Classify the user's question into exactly one of these Atlas GraphQL query types:

country_profile: overall profile of one country (ECI, rankings, diversification grade, growth projection)
treemap_products: composition of one country's exports or imports by product
treemap_partners: composition of one country's trade by partner country
new_products: products a country recently started exporting
country_growth: growth projections or historical growth for a country
product_space_rca: a country's position in the product space / revealed comparative advantage
out_of_scope: cannot be answered from the Atlas GraphQL API (custom aggregations, bilateral product detail, multi-country comparisons)

If the question is out of scope, say why in rejection_reason.

%sQuestion: %s`

// BuildGraphQLClassificationPrompt formats the classification prompt.
func BuildGraphQLClassificationPrompt(question, context string) string {
	return fmt.Sprintf(graphqlClassificationPrompt, contextBlock(context), question)
}

// graphqlEntityExtractionPrompt extracts entities for a classified query.
const graphqlEntityExtractionPrompt = `Extract the entities needed to answer this %s question about the Atlas of Economic Complexity.

Identify, when present:
- country: the main country the question is about
- partner_country: the second country, for partner/bilateral questions
- product: a specific product, for product-focused questions
- year: the requested year (omit when not specified)
- direction: "exports" or "imports" (default exports)
%s
%sQuestion: %s`

// BuildGraphQLEntityExtractionPrompt formats the entity extraction prompt.
// servicesCatalog, when non-empty, lists valid services category names.
func BuildGraphQLEntityExtractionPrompt(queryType, question, context, servicesCatalog string) string {
	var services string
	if servicesCatalog != "" {
		services = fmt.Sprintf("- services_category: one of the following when the question is about services: %s\n", servicesCatalog)
	}
	return fmt.Sprintf(graphqlEntityExtractionPrompt, queryType, services, contextBlock(context), question)
}

// idResolutionPrompt disambiguates among candidate catalog entries.
const idResolutionPrompt = `The user's question mentions %s "%s". The catalog lookup returned multiple candidates:

%s

Given the question below, select the single best matching candidate.

Question: %s`

// BuildIDResolutionPrompt formats the candidate disambiguation prompt.
func BuildIDResolutionPrompt(entityType, mention, candidates, question string) string {
	return fmt.Sprintf(idResolutionPrompt, entityType, mention, candidates, question)
}

// --- Docs pipeline -------------------------------------------------------

// documentSelectionPrompt picks manifest entries for synthesis.
const documentSelectionPrompt = `Select the documentation files needed to answer the question below. The manifest lists each document's purpose and when to load it.

Select the MINIMUM relevant set, at most %d documents, as zero-based indices into the manifest.

%sQuestion: %s

Manifest:
%s`

// BuildDocumentSelectionPrompt formats the document selection prompt.
func BuildDocumentSelectionPrompt(question, context, manifest string, maxDocs int) string {
	return fmt.Sprintf(documentSelectionPrompt, maxDocs, contextBlock(context), question, manifest)
}

// documentationSynthesisPrompt produces a focused synthesis of loaded docs.
const documentationSynthesisPrompt = `Answer the question below using ONLY the documentation provided. Be precise and focused: include definitions, formulas, and caveats that bear on the question, and omit unrelated material. If the documentation does not cover the question, say so.

%sQuestion: %s

Documentation:
%s`

// BuildDocumentationSynthesisPrompt formats the synthesis prompt.
func BuildDocumentationSynthesisPrompt(question, context, docsContent string) string {
	return fmt.Sprintf(documentationSynthesisPrompt, contextBlock(context), question, docsContent)
}

// contextBlock renders the optional caller-provided context paragraph.
func contextBlock(context string) string {
	if context == "" {
		return ""
	}
	return fmt.Sprintf("Context: %s\n\n", context)
}
