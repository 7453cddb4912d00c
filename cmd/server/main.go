package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/graphloom/loom/internal/queue"
	"github.com/graphloom/loom/internal/server"
	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/ai/ollama"
	"github.com/graphloom/loom/pkg/ai/openai"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/logger/console"
	"github.com/graphloom/loom/pkg/prompt"
	"github.com/graphloom/loom/pkg/query"
	"github.com/graphloom/loom/pkg/store"
	neostore "github.com/graphloom/loom/pkg/store/neo4j"
	pgxstore "github.com/graphloom/loom/pkg/store/pgx"
	"github.com/graphloom/loom/pkg/vector"
	"github.com/graphloom/loom/pkg/vector/pgvector"
	"github.com/graphloom/loom/pkg/vector/sqlitevec"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.New(console.Params{Debug: debug}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	runMigrations(databaseURL)

	var pool *pgxpool.Pool
	if databaseURL != "" {
		pool = openPool(ctx, databaseURL)
		defer pool.Close()
	}

	model, embedder := buildAI()

	// Graph store
	var graphStore store.GraphStore
	switch util.GetEnvString("GRAPH_STORE", "postgres") {
	case "neo4j":
		neo, err := neostore.New(ctx, neostore.Params{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
		})
		if err != nil {
			logger.Fatal("Could not connect to neo4j", "err", err)
		}
		defer neo.Close(ctx)
		graphStore = neo
	default:
		if pool == nil {
			logger.Fatal("DATABASE_URL is required for the postgres graph store")
		}
		graphStore = pgxstore.New(pool)
	}

	// Vector index
	var index vector.Index
	switch util.GetEnvString("VECTOR_INDEX", "pgvector") {
	case "sqlite":
		svec, err := sqlitevec.Open(
			util.GetEnvString("SQLITE_VEC_PATH", "loom.db"),
			util.GetEnvInt("AI_EMBED_DIM", 1536),
		)
		if err != nil {
			logger.Fatal("Could not open sqlite vector index", "err", err)
		}
		defer svec.Close()
		index = svec
	default:
		if pool == nil {
			logger.Fatal("DATABASE_URL is required for the pgvector index")
		}
		index = pgvector.New(pool)
	}

	prompts := prompt.NewRegistry()
	if path := util.GetEnv("PROMPTS_PATH"); path != "" {
		if err := prompts.Load(path); err != nil {
			logger.Fatal("Could not load prompt overrides", "path", path, "err", err)
		}
	}

	queries, err := query.NewClient(query.Params{
		Model:            model,
		Embedder:         embedder,
		Store:            graphStore,
		Index:            index,
		Prompts:          prompts,
		TopK:             util.GetEnvInt("QUERY_TOP_K", 5),
		Hops:             util.GetEnvInt("QUERY_HOPS", 2),
		MaxContextTokens: util.GetEnvInt("QUERY_CONTEXT_TOKENS", 3000),
	})
	if err != nil {
		logger.Fatal("Could not create query client", "err", err)
	}

	conn, err := queue.Dial()
	if err != nil {
		logger.Fatal("Could not connect to rabbitmq", "err", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.Setup(ch); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	var ping func(ctx context.Context) error
	if pool != nil {
		ping = pool.Ping
	}

	srv, err := server.New(server.Params{
		Queries: queries,
		Ingest:  ch,
		Ping:    ping,
		JWKSURL: util.GetEnv("JWKS_URL"),
	})
	if err != nil {
		logger.Fatal("Could not create server", "err", err)
	}

	port := util.GetEnvString("PORT", "8080")
	if err := srv.Start(ctx, ":"+port); err != nil {
		logger.Fatal("Server exited", "err", err)
	}
}

// runMigrations applies pending schema migrations. Skipped without a
// DATABASE_URL (neo4j + sqlite deployments run without Postgres).
func runMigrations(databaseURL string) {
	if databaseURL == "" {
		return
	}
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		logger.Fatal("Could not open migrations", "path", path, "err", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Could not apply migrations", "err", err)
	}
	logger.Info("Migrations up to date")
}

func openPool(ctx context.Context, databaseURL string) *pgxpool.Pool {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("Invalid DATABASE_URL", "err", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	return pool
}

// buildAI assembles the model and embedding clients from the environment,
// with optional rate limiting and circuit breaking layered on top.
func buildAI() (ai.ModelClient, ai.EmbeddingClient) {
	embedDim := util.GetEnvInt("AI_EMBED_DIM", 1536)

	var (
		model    ai.ModelClient
		embedder ai.EmbeddingClient
	)
	switch util.GetEnvString("AI_ADAPTER", "openai") {
	case "ollama":
		client, err := ollama.New(ollama.Params{
			BaseURL:    util.GetEnv("AI_URL"),
			APIKey:     util.GetEnv("AI_KEY"),
			ChatModel:  util.GetEnvString("AI_CHAT_MODEL", "llama3.1"),
			EmbedModel: util.GetEnvString("AI_EMBED_MODEL", "nomic-embed-text"),
			EmbedDim:   embedDim,
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		model, embedder = client, client
	default:
		client, err := openai.New(openai.Params{
			BaseURL:    util.GetEnv("AI_URL"),
			APIKey:     util.GetEnv("AI_KEY"),
			ChatModel:  util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			EmbedModel: util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			EmbedDim:   embedDim,
		})
		if err != nil {
			logger.Fatal("Could not create OpenAI client", "err", err)
		}
		model, embedder = client, client
	}

	if rps := util.GetEnvFloat("AI_REQS_PER_SECOND", 0); rps > 0 {
		burst := util.GetEnvInt("AI_BURST", 1)
		model = ai.NewLimitedModel(model, rps, burst)
		embedder = ai.NewLimitedEmbedder(embedder, rps, burst)
	}
	if util.GetEnvBool("AI_BREAKER", true) {
		model = ai.NewBreakerModel(model, ai.BreakerConfig{})
		embedder = ai.NewBreakerEmbedder(embedder, ai.BreakerConfig{})
	}
	return model, embedder
}
