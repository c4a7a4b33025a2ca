package config

// Non-secret model and behavior defaults. Environment variables always
// override these values.
const (
	// Frontier model: complex reasoning, agent orchestration, SQL generation.
	DefaultFrontierModel    = "gpt-5.2"
	DefaultFrontierProvider = "openai"

	// Lightweight model: extraction, classification, selection.
	DefaultLightweightModel    = "gpt-5-mini"
	DefaultLightweightProvider = "openai"

	DefaultAgentMode = ModeAuto

	DefaultMaxQueriesPerTurn   = 30
	DefaultMaxRowsPerQuery     = 15
	DefaultMaxDocsPerSelection = 2
	DefaultMaxGraphQLRequests  = 50

	// Data coverage bounds for the agent system prompt.
	DefaultSQLMaxYear     = 2023
	DefaultGraphQLMaxYear = 2022

	DefaultGraphQLEndpoint = "https://atlas.hks.harvard.edu/api/graphql"
	DefaultDocsDir         = "docs/methodology"
	DefaultTableCatalog    = "db_table_descriptions.json"
	DefaultEntityCatalog   = "entity_catalogs.json"

	DefaultListenAddr = ":8080"
)
