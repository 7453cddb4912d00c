package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/graphloom/loom/internal/queue"
	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/ai/ollama"
	"github.com/graphloom/loom/pkg/ai/openai"
	"github.com/graphloom/loom/pkg/chunker"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/leaselock"
	"github.com/graphloom/loom/pkg/loader"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/logger/console"
	"github.com/graphloom/loom/pkg/prompt"
	"github.com/graphloom/loom/pkg/store"
	neostore "github.com/graphloom/loom/pkg/store/neo4j"
	pgxstore "github.com/graphloom/loom/pkg/store/pgx"
	"github.com/graphloom/loom/pkg/vector"
	"github.com/graphloom/loom/pkg/vector/pgvector"
	"github.com/graphloom/loom/pkg/vector/sqlitevec"
)

// leaseTTL bounds how long a crashed worker blocks redelivery of the
// message it was holding. Renewal keeps live ingestions covered past it.
const leaseTTL = 5 * time.Minute

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.New(console.Params{Debug: debug}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ingest leases live in Postgres, so the worker always needs it even
	// when the graph store and vector index are hosted elsewhere.
	databaseURL := util.GetEnv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	runMigrations(databaseURL)
	pool := openPool(ctx, databaseURL)
	defer pool.Close()

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
		index = pgvector.New(pool)
	}

	prompts := prompt.NewRegistry()
	if path := util.GetEnv("PROMPTS_PATH"); path != "" {
		if err := prompts.Load(path); err != nil {
			logger.Fatal("Could not load prompt overrides", "path", path, "err", err)
		}
	}

	workers := util.GetEnvInt("WORKERS", 4)
	client, err := graph.NewClient(graph.Params{
		Chunker: chunker.NewTokenChunker(chunker.Params{
			MaxTokens: util.GetEnvInt("CHUNK_MAX_TOKENS", 300),
		}),
		Model:      model,
		Embedder:   embedder,
		Store:      graphStore,
		Index:      index,
		Prompts:    prompts,
		Workers:    workers,
		Dedup:      util.GetEnvBool("DEDUP_ENTITIES", false),
		JSONFormat: util.GetEnvBool("EXTRACT_JSON", false),
	})
	if err != nil {
		logger.Fatal("Could not create construction client", "err", err)
	}

	// Document sources by name; ingest messages pick one via their
	// source field.
	sources := map[string]loader.Source{}
	if root := util.GetEnv("DOCS_ROOT"); root != "" {
		fs, err := loader.NewFSSource(root)
		if err != nil {
			logger.Fatal("Could not open documents root", "root", root, "err", err)
		}
		sources["fs"] = fs
	}
	if bucket := util.GetEnv("S3_BUCKET"); bucket != "" {
		s3src, err := loader.NewS3Source(ctx, loader.S3Params{
			Bucket:    bucket,
			Endpoint:  util.GetEnv("S3_ENDPOINT"),
			Region:    util.GetEnvString("S3_REGION", "eu-central-1"),
			AccessKey: util.GetEnv("S3_ACCESS_KEY"),
			SecretKey: util.GetEnv("S3_SECRET_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create s3 source", "err", err)
		}
		sources["s3"] = s3src
	}
	if len(sources) == 0 {
		logger.Fatal("No document source configured, set DOCS_ROOT or S3_BUCKET")
	}

	leases := leaselock.New(pool)

	conn, err := queue.Dial()
	if err != nil {
		logger.Fatal("Could not connect to rabbitmq", "err", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.Setup(ch); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}
	ch.Close()

	handle := func(ctx context.Context, msg queue.IngestMessage) error {
		src, ok := sources[msg.Source]
		if !ok {
			return fmt.Errorf("unknown document source %q", msg.Source)
		}
		return leases.WithLease(ctx, "ingest:"+msg.ID, leaseTTL, func(ctx context.Context) error {
			docs, err := loader.LoadAll(ctx, src, msg.Refs)
			if err != nil {
				return err
			}
			run, err := client.IngestDocuments(ctx, docs)
			if err != nil {
				return err
			}
			logger.Info("Ingestion run finished",
				"message", msg.ID, "run", run.ID, "status", run.Status,
				"items", run.Items, "failed", run.Failed, "skipped", run.Skipped,
				"duration", run.Duration())
			return run.Err()
		})
	}

	logger.Info("Listening for messages")
	if err := queue.Consume(ctx, conn, workers, handle); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

// runMigrations applies pending schema migrations before the worker takes
// any messages.
func runMigrations(databaseURL string) {
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
