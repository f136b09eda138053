// Command server runs the adaptive RAG question-answering service: it
// loads the corpus, builds the retrieval pipeline and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweetpotato0/adaptiverag/chat"
	"github.com/sweetpotato0/adaptiverag/config"
	hashembedder "github.com/sweetpotato0/adaptiverag/contrib/embedder/hash"
	openaiembedder "github.com/sweetpotato0/adaptiverag/contrib/embedder/openai"
	claudeprovider "github.com/sweetpotato0/adaptiverag/contrib/provider/claude"
	groqprovider "github.com/sweetpotato0/adaptiverag/contrib/provider/groq"
	openaiprovider "github.com/sweetpotato0/adaptiverag/contrib/provider/openai"
	tiktokenizer "github.com/sweetpotato0/adaptiverag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/adaptiverag/contrib/vector/inmemory"
	"github.com/sweetpotato0/adaptiverag/contrib/vector/pg"
	"github.com/sweetpotato0/adaptiverag/corpus"
	"github.com/sweetpotato0/adaptiverag/grader"
	"github.com/sweetpotato0/adaptiverag/history"
	historystore "github.com/sweetpotato0/adaptiverag/history/store"
	"github.com/sweetpotato0/adaptiverag/index"
	"github.com/sweetpotato0/adaptiverag/notify"
	"github.com/sweetpotato0/adaptiverag/oracle"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/pkg/telemetry"
	"github.com/sweetpotato0/adaptiverag/retrieve"
	"github.com/sweetpotato0/adaptiverag/sentiment"
	"github.com/sweetpotato0/adaptiverag/server"
	"github.com/sweetpotato0/adaptiverag/state"
	statestore "github.com/sweetpotato0/adaptiverag/state/store"
	"github.com/sweetpotato0/adaptiverag/tokenizer"
	"github.com/sweetpotato0/adaptiverag/vector"
	"github.com/sweetpotato0/adaptiverag/websearch"
	"github.com/sweetpotato0/adaptiverag/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := logging.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "adaptiverag",
		Environment: cfg.Telemetry.Environment,
		Disable:     !cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	llm, err := buildProvider(cfg)
	if err != nil {
		logger.Error("failed to build oracle provider", "error", err)
		os.Exit(1)
	}
	orc := oracle.New(llm)

	embedder := buildEmbedder(cfg)
	store, err := buildStore(cfg, embedder)
	if err != nil {
		logger.Error("failed to build vector store", "error", err)
		os.Exit(1)
	}

	idx := index.New(store, embedder, buildChunker(cfg))
	if err := ingestCorpus(ctx, cfg, idx); err != nil {
		logger.Error("corpus ingestion failed", "error", err)
		os.Exit(1)
	}
	logger.Info("corpus ready", "chunks", idx.Count())

	sessions := state.NewStore()
	grd := grader.New(orc)
	retriever := retrieve.New(idx, orc, grd,
		retrieve.WithNumNeighbors(cfg.Retrieval.NumNeighbors))

	var searcher websearch.Searcher
	if cfg.Retrieval.WebSearch {
		searcher = websearch.NewClient()
	}

	engine := workflow.New(retriever, grd, orc, searcher, sessions)

	opts := []chat.Option{
		chat.WithSentiment(sentiment.NewAnalyzer(orc, sessions)),
		chat.WithNotifier(notify.New(cfg.Webhook.URL, notify.WithRetries(cfg.Webhook.Retries))),
	}

	hist := buildHistory(cfg, logger)
	if hist != nil {
		defer hist.Close(context.Background())
		opts = append(opts, chat.WithHistory(hist))
	}

	if cfg.Redis.Addr != "" {
		mirror := statestore.NewRedisMirror(&statestore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "adaptiverag:session:",
			TTL:      24 * time.Hour,
		})
		if err := mirror.Ping(ctx); err != nil {
			logger.Warn("redis mirror unreachable, continuing without it", "error", err)
		} else {
			defer mirror.Close()
			opts = append(opts, chat.WithSessionMirror(mirror))
		}
	}

	service := chat.New(engine, sessions, opts...)
	srv := server.New(cfg.Server.Addr, service)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildProvider(cfg *config.Config) (oracle.Client, error) {
	switch cfg.Oracle.Provider {
	case "openai":
		pc := openaiprovider.DefaultConfig().
			WithAPIKey(cfg.Oracle.APIKey).
			WithBaseURL(cfg.Oracle.BaseURL)
		if cfg.Oracle.Model != "" {
			pc.WithModel(cfg.Oracle.Model)
		}
		return openaiprovider.New(pc), nil
	case "claude":
		pc := claudeprovider.DefaultConfig(cfg.Oracle.APIKey, cfg.Oracle.BaseURL)
		if cfg.Oracle.Model != "" {
			pc.Model = cfg.Oracle.Model
		}
		return claudeprovider.New(pc), nil
	default:
		pc := groqprovider.DefaultConfig(cfg.Oracle.APIKey)
		if cfg.Oracle.Model != "" {
			pc.Model = cfg.Oracle.Model
		}
		return groqprovider.New(pc), nil
	}
}

func buildEmbedder(cfg *config.Config) vector.Embedder {
	if cfg.Embedder.Provider == "openai" {
		dimension := cfg.Embedder.Dimension
		if dimension <= 0 {
			dimension = 1536
		}
		return openaiembedder.New(cfg.Embedder.APIKey, "", cfg.Embedder.Model, dimension)
	}
	return hashembedder.New(cfg.Embedder.Dimension)
}

func buildStore(cfg *config.Config, embedder vector.Embedder) (vector.VectorStore, error) {
	if cfg.Store.Backend == "pg" {
		return pg.NewFromDSN(cfg.Store.Postgres, embedder.Dimension(), "chunks")
	}
	return inmemory.NewInMemoryVectorStore(), nil
}

// buildChunker prefers the tiktoken encoder and falls back to the simple
// tokenizer when the encoding data is unavailable (e.g. offline).
func buildChunker(cfg *config.Config) corpus.Chunker {
	var tok tokenizer.Tokenizer
	if tt, err := tiktokenizer.New(cfg.Corpus.Encoding); err == nil {
		tok = tt
	} else {
		logging.WithComponent("main").Warn("tiktoken unavailable, using simple tokenizer", "error", err)
		tok = tokenizer.NewSimpleTokenizer()
	}
	return corpus.NewTokenChunker(tok,
		corpus.WithChunkTokens(cfg.Corpus.ChunkTokens),
		corpus.WithOverlapTokens(cfg.Corpus.OverlapTokens))
}

func ingestCorpus(ctx context.Context, cfg *config.Config, idx *index.Index) error {
	loader := corpus.NewWebLoader()
	docs := loader.Load(ctx, cfg.Corpus.URLs)
	return idx.Ingest(ctx, docs...)
}

func buildHistory(cfg *config.Config, logger *slog.Logger) history.Store {
	if cfg.Mongo.URI == "" {
		return history.NewInMemoryStore()
	}
	store, err := historystore.NewMongoStore(&historystore.MongoConfig{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	})
	if err != nil {
		logger.Warn("mongo history unavailable, using in-memory store", "error", err)
		return history.NewInMemoryStore()
	}
	return store
}
