// Ask-Atlas server - answers natural-language questions about Atlas trade
// data via a tool-using agent with SQL, GraphQL, and docs pipelines.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/growthlab/askatlas/pkg/agent"
	"github.com/growthlab/askatlas/pkg/api"
	"github.com/growthlab/askatlas/pkg/checkpoint"
	"github.com/growthlab/askatlas/pkg/config"
	"github.com/growthlab/askatlas/pkg/conversations"
	"github.com/growthlab/askatlas/pkg/database"
	"github.com/growthlab/askatlas/pkg/docstool"
	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/graphqltool"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/sqltool"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting ask-atlas",
		"agent_mode", cfg.AgentMode,
		"frontier_model", cfg.FrontierModel,
		"lightweight_model", cfg.LightweightModel)

	// Model clients and per-prompt registry.
	frontier, err := llm.New(cfg.FrontierProvider, cfg.FrontierModel, cfg.APIKeyFor(cfg.FrontierProvider))
	if err != nil {
		slog.Error("Failed to create frontier model client", "error", err)
		os.Exit(1)
	}
	lightweight, err := llm.New(cfg.LightweightProvider, cfg.LightweightModel, cfg.APIKeyFor(cfg.LightweightProvider))
	if err != nil {
		slog.Error("Failed to create lightweight model client", "error", err)
		os.Exit(1)
	}
	registry, err := llm.NewRegistry(frontier, lightweight, cfg.PromptModelAssignments)
	if err != nil {
		slog.Error("Failed to build model registry", "error", err)
		os.Exit(1)
	}

	// App database: checkpoints + conversations. Failure to initialize
	// falls back to in-memory stores.
	var (
		dbClient        *database.Client
		checkpointStore checkpoint.Store
		convStore       conversations.Store
	)
	if cfg.CheckpointDBURL != "" {
		dbClient, err = database.NewClient(ctx, database.Config{URL: cfg.CheckpointDBURL})
		if err != nil {
			slog.Warn("Failed to initialize app database, falling back to in-memory stores", "error", err)
		}
	}
	if dbClient != nil {
		checkpointStore = checkpoint.NewStore(ctx, dbClient.Pool())
		convStore = conversations.NewPostgresStore(dbClient.Pool())
		defer dbClient.Close()
	} else {
		checkpointStore = checkpoint.NewMemoryStore()
		convStore = conversations.NewMemoryStore()
	}

	// Read-only warehouse connection for the SQL pipeline.
	if cfg.AtlasDBURL == "" {
		slog.Error("ATLAS_DB_URL is required")
		os.Exit(1)
	}
	warehousePool, err := pgxpool.New(ctx, cfg.AtlasDBURL)
	if err != nil {
		slog.Error("Failed to connect to the Atlas warehouse", "error", err)
		os.Exit(1)
	}
	defer warehousePool.Close()

	catalog, err := sqltool.LoadCatalog(cfg.TableCatalog)
	if err != nil {
		slog.Error("Failed to load table catalog", "path", cfg.TableCatalog, "error", err)
		os.Exit(1)
	}
	sqlPipeline, err := sqltool.NewPipeline(registry, sqltool.NewPgxWarehouse(warehousePool), catalog,
		cfg.MaxRowsPerQuery, cfg.SQLMaxYear)
	if err != nil {
		slog.Error("Failed to build SQL pipeline", "error", err)
		os.Exit(1)
	}

	// GraphQL pipeline with process-wide budget and politeness limits.
	entityCatalogs, err := graphqltool.LoadCatalogs(cfg.EntityCatalog)
	if err != nil {
		slog.Warn("Entity catalogs unavailable; GraphQL resolution will reject unmatched entities",
			"path", cfg.EntityCatalog, "error", err)
		entityCatalogs = graphqltool.NewCatalogs(nil, nil, nil)
	}
	budget := graphqltool.NewBudget(cfg.MaxGraphQLRequests)
	gqlClient := graphqltool.NewClient(cfg.GraphQLEndpoint, 2, 500*time.Millisecond)
	gqlPipeline, err := graphqltool.NewPipeline(registry, gqlClient, entityCatalogs, budget, cfg.GraphQLMaxYear)
	if err != nil {
		slog.Error("Failed to build GraphQL pipeline", "error", err)
		os.Exit(1)
	}

	// Docs pipeline with the manifest preloaded at startup.
	manifest, err := docstool.LoadManifest(cfg.DocsDir)
	if err != nil {
		slog.Error("Failed to load docs manifest", "dir", cfg.DocsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Docs manifest loaded", "documents", len(manifest))
	docsPipeline, err := docstool.NewPipeline(registry, manifest, cfg.MaxDocsPerSelection)
	if err != nil {
		slog.Error("Failed to build docs pipeline", "error", err)
		os.Exit(1)
	}

	// Agent node and graph executor.
	tools := []graph.Tool{sqlPipeline.Tool(), gqlPipeline.Tool(), docsPipeline.Tool()}
	toolDefs := make(map[string]llm.ToolDefinition, len(tools))
	for _, tool := range tools {
		toolDefs[tool.Name] = tool.Definition()
	}

	agentNode, err := agent.New(agent.Config{
		Registry:       registry,
		Mode:           cfg.AgentMode,
		Tools:          toolDefs,
		MaxUses:        cfg.MaxQueriesPerTurn,
		TopKPerQuery:   cfg.MaxRowsPerQuery,
		SQLMaxYear:     cfg.SQLMaxYear,
		GraphQLMaxYear: cfg.GraphQLMaxYear,
		Budget:         budget,
	})
	if err != nil {
		slog.Error("Failed to build agent node", "error", err)
		os.Exit(1)
	}

	executor, err := graph.NewExecutor(graph.Config{
		Agent:    agentNode.Node(),
		Conclude: agentNode.ConcludeNode(),
		Tools:    tools,
		Store:    checkpointStore,
		MaxUses:  cfg.MaxQueriesPerTurn,
	})
	if err != nil {
		slog.Error("Failed to compile graph", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(executor, convStore, cfg.CORSOrigins)
	if dbClient != nil {
		server.SetHealthPing(dbClient.Ping)
	}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := server.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}
}
