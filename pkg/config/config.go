// Package config centralizes application configuration. Values come from
// environment variables (with optional .env loading) over compiled-in
// defaults; model and provider defaults live in models.go.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AgentMode controls which tool pipelines the agent may use.
type AgentMode string

const (
	ModeAuto        AgentMode = "auto"
	ModeGraphQLSQL  AgentMode = "graphql_sql"
	ModeSQLOnly     AgentMode = "sql_only"
	ModeGraphQLOnly AgentMode = "graphql_only"
)

// Valid reports whether the mode is one of the supported values.
func (m AgentMode) Valid() bool {
	switch m {
	case ModeAuto, ModeGraphQLSQL, ModeSQLOnly, ModeGraphQLOnly:
		return true
	}
	return false
}

// Config is the application configuration.
type Config struct {
	// Databases.
	AtlasDBURL      string // read-only warehouse
	CheckpointDBURL string // checkpoints + conversations; empty = in-memory

	// Provider API keys.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string

	// Model tiers.
	FrontierModel       string
	FrontierProvider    string
	LightweightModel    string
	LightweightProvider string

	// Per-prompt tier assignments ("frontier" or "lightweight").
	PromptModelAssignments map[string]string

	// Agent behavior.
	AgentMode           AgentMode
	MaxQueriesPerTurn   int
	MaxRowsPerQuery     int
	MaxDocsPerSelection int
	MaxGraphQLRequests  int

	// Data coverage bounds injected into the agent system prompt.
	SQLMaxYear     int
	GraphQLMaxYear int

	// External endpoints and content.
	GraphQLEndpoint string
	DocsDir         string
	TableCatalog    string // path to the table catalog JSON
	EntityCatalog   string // path to the country/product catalog JSON

	// HTTP server.
	ListenAddr  string
	CORSOrigins []string
}

// Load reads configuration from the environment, applying defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg := &Config{
		AtlasDBURL:      os.Getenv("ATLAS_DB_URL"),
		CheckpointDBURL: os.Getenv("CHECKPOINT_DB_URL"),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),

		FrontierModel:       envOr("FRONTIER_MODEL", DefaultFrontierModel),
		FrontierProvider:    envOr("FRONTIER_MODEL_PROVIDER", DefaultFrontierProvider),
		LightweightModel:    envOr("LIGHTWEIGHT_MODEL", DefaultLightweightModel),
		LightweightProvider: envOr("LIGHTWEIGHT_MODEL_PROVIDER", DefaultLightweightProvider),

		PromptModelAssignments: parseAssignments(os.Getenv("PROMPT_MODEL_ASSIGNMENTS")),

		AgentMode:           AgentMode(envOr("AGENT_MODE", string(DefaultAgentMode))),
		MaxQueriesPerTurn:   envIntOr("MAX_QUERIES", DefaultMaxQueriesPerTurn),
		MaxRowsPerQuery:     envIntOr("MAX_RESULTS", DefaultMaxRowsPerQuery),
		MaxDocsPerSelection: envIntOr("MAX_DOCS_PER_SELECTION", DefaultMaxDocsPerSelection),
		MaxGraphQLRequests:  envIntOr("MAX_GRAPHQL_REQUESTS", DefaultMaxGraphQLRequests),

		SQLMaxYear:     envIntOr("SQL_MAX_YEAR", DefaultSQLMaxYear),
		GraphQLMaxYear: envIntOr("GRAPHQL_MAX_YEAR", DefaultGraphQLMaxYear),

		GraphQLEndpoint: envOr("ATLAS_GRAPHQL_ENDPOINT", DefaultGraphQLEndpoint),
		DocsDir:         envOr("DOCS_DIR", DefaultDocsDir),
		TableCatalog:    envOr("TABLE_CATALOG", DefaultTableCatalog),
		EntityCatalog:   envOr("ENTITY_CATALOG", DefaultEntityCatalog),

		ListenAddr:  envOr("LISTEN_ADDR", DefaultListenAddr),
		CORSOrigins: splitNonEmpty(os.Getenv("CORS_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if !c.AgentMode.Valid() {
		return fmt.Errorf("invalid AGENT_MODE %q: use auto, graphql_sql, sql_only, or graphql_only", c.AgentMode)
	}
	if c.MaxQueriesPerTurn <= 0 {
		return fmt.Errorf("MAX_QUERIES must be positive, got %d", c.MaxQueriesPerTurn)
	}
	if c.MaxRowsPerQuery <= 0 {
		return fmt.Errorf("MAX_RESULTS must be positive, got %d", c.MaxRowsPerQuery)
	}
	if c.MaxDocsPerSelection <= 0 {
		return fmt.Errorf("MAX_DOCS_PER_SELECTION must be positive, got %d", c.MaxDocsPerSelection)
	}
	for key, tier := range c.PromptModelAssignments {
		if tier != "frontier" && tier != "lightweight" {
			return fmt.Errorf("prompt %q assigned to unknown tier %q", key, tier)
		}
	}
	if err := c.validateProvider("frontier", c.FrontierProvider); err != nil {
		return err
	}
	return c.validateProvider("lightweight", c.LightweightProvider)
}

// APIKeyFor returns the configured key for a provider.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "google-genai", "google":
		return c.GoogleAPIKey
	}
	return ""
}

func (c *Config) validateProvider(tier, provider string) error {
	switch provider {
	case "openai", "anthropic", "google-genai", "google":
		return nil
	}
	return fmt.Errorf("unsupported %s provider %q: use 'openai', 'anthropic', or 'google-genai'", tier, provider)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return fallback
	}
	return n
}

// parseAssignments parses "key=tier,key=tier" pairs.
func parseAssignments(raw string) map[string]string {
	assignments := make(map[string]string)
	for _, pair := range splitNonEmpty(raw) {
		key, tier, ok := strings.Cut(pair, "=")
		if !ok {
			slog.Warn("Ignoring malformed prompt assignment", "pair", pair)
			continue
		}
		assignments[strings.TrimSpace(key)] = strings.TrimSpace(tier)
	}
	return assignments
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
