package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/chunker"
	"github.com/kailas-cloud/ragchat/internal/config"
	"github.com/kailas-cloud/ragchat/internal/db"
	dbRedis "github.com/kailas-cloud/ragchat/internal/db/redis"
	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/extract"
	logpkg "github.com/kailas-cloud/ragchat/internal/logger"
	"github.com/kailas-cloud/ragchat/internal/metrics"
	"github.com/kailas-cloud/ragchat/internal/observability"
	"github.com/kailas-cloud/ragchat/internal/repository/embcache"
	"github.com/kailas-cloud/ragchat/internal/repository/knowledge"
	"github.com/kailas-cloud/ragchat/internal/repository/qdrant"
	openaiTransport "github.com/kailas-cloud/ragchat/internal/transport/openai"
	chatuc "github.com/kailas-cloud/ragchat/internal/usecase/chat"
	embeddinguc "github.com/kailas-cloud/ragchat/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragchat/internal/usecase/health"
	"github.com/kailas-cloud/ragchat/internal/usecase/history"
	ingestuc "github.com/kailas-cloud/ragchat/internal/usecase/ingest"
	"github.com/kailas-cloud/ragchat/internal/usecase/retrieval"
	"github.com/kailas-cloud/ragchat/internal/version"
)

const providerName = "openai"

// knowledgeBase is what the composition root needs from a vector store adapter.
type knowledgeBase interface {
	ingestuc.Store
	retrieval.Store
}

// app is the wired service graph shared by every subcommand.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger

	chat   *chatuc.Service
	ingest *ingestuc.Service
	health *healthuc.Service

	closers []func()
}

// newApp loads configuration and builds the composition root.
func newApp(ctx context.Context, env string) (*app, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{env: env, cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "ragchat",
		ServiceVersion: version.Version,
		Environment:    a.env,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	})

	metrics.Register()

	kb, pinger, err := a.openKnowledgeBase(ctx)
	if err != nil {
		return err
	}

	retriever := retrieval.New(kb, retrieval.Params{
		PreRankN:          cfg.RAG.PreRankN,
		TopN:              cfg.RAG.TopN,
		DistanceThreshold: *cfg.RAG.DistanceThreshold,
	}, a.logger)

	completer := openaiTransport.NewCompleter(&openaiTransport.CompleterConfig{
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
	})

	a.chat = chatuc.New(retriever, completer, history.New(cfg.Chat.MaxHistory), chatuc.Config{
		SystemPrompt:      cfg.Chat.SystemPrompt,
		MaxRecentMessages: cfg.Chat.MaxRecentMessages,
		Temperature:       cfg.Completion.Temperature,
		RetrievalTimeout:  cfg.RAG.RetrievalTimeout(),
		CompletionTimeout: cfg.Completion.Timeout(),
	}, a.logger)
	// history starts with the system prompt
	a.chat.ClearHistory()

	splitter, err := chunker.New(cfg.RAG.ChunkSize, *cfg.RAG.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("create chunker: %w", err)
	}
	a.ingest = ingestuc.New(kb, extract.NewRegistry(), splitter, ingestuc.Config{
		InboxDir:       cfg.Storage.InboxDir,
		DoneDir:        cfg.Storage.DoneDir,
		MaxUploadBytes: int64(cfg.Storage.MaxUploadMB) << 20,
	}, a.logger)
	if err := a.ingest.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare storage dirs: %w", err)
	}

	a.health = healthuc.New(pinger, a.healthEmbedder(), completer, a.logger)

	a.logger.Info("Services wired",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.String("completion_model", cfg.Completion.Model),
		zap.Bool("tracing", tp.Enabled()),
	)
	return nil
}

// openKnowledgeBase connects the configured vector store and returns it with
// its liveness probe.
func (a *app) openKnowledgeBase(ctx context.Context) (knowledgeBase, healthuc.DBPinger, error) {
	cfg := a.cfg
	switch cfg.Database.Driver {
	case config.DriverValkey, config.DriverRedis:
		// Valkey Search and Redis 8 accept the same FT.* commands.
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create database store: %w", err)
		}
		a.closers = append(a.closers, store.Close)

		timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			return nil, nil, fmt.Errorf("database not ready: %w", err)
		}
		a.logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))

		algo, err := db.ParseVectorAlgorithm(cfg.RAG.IndexAlgorithm)
		if err != nil {
			return nil, nil, fmt.Errorf("parse index algorithm: %w", err)
		}

		docs := a.buildEmbedder(cfg.Embedding.DocumentInstruction, store)
		queries := a.buildEmbedder(cfg.Embedding.QueryInstruction, store)
		repo := knowledge.New(store, docs, queries, knowledge.Config{
			KeyPrefix:      cfg.Storage.KeyPrefix,
			Collection:     cfg.Storage.Collection,
			Dimensions:     cfg.Embedding.Dimensions,
			Algorithm:      algo,
			HNSWM:          cfg.RAG.HNSWM,
			EFConstruction: cfg.RAG.HNSWEFConstruct,
		})
		return repo, store, nil

	case config.DriverQdrant:
		docs := a.buildEmbedder(cfg.Embedding.DocumentInstruction, nil)
		queries := a.buildEmbedder(cfg.Embedding.QueryInstruction, nil)
		repo, err := qdrant.Dial(qdrant.Config{
			Addr:       cfg.Database.Addrs[0],
			Collection: cfg.Storage.Collection,
			Dimensions: cfg.Embedding.Dimensions,
		}, docs, queries)
		if err != nil {
			return nil, nil, fmt.Errorf("connect qdrant: %w", err)
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.logger.Info("Connected to qdrant", zap.String("addr", cfg.Database.Addrs[0]))
		return repo, repo, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// buildEmbedder assembles the decorator chain:
// OpenAI -> Cached -> Instrumented -> Retry -> Instruction.
// cache is nil for backends without a KV store.
func (a *app) buildEmbedder(instruction string, cache *dbRedis.Store) domain.Embedder {
	cfg := a.cfg.Embedding

	var embedder domain.Embedder = openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   providerName,
		Logger:     a.logger,
	})

	if cfg.Cache && cache != nil {
		embedder = embcache.New(embedder, cache, embcache.Options{
			KeyPrefix: a.cfg.Storage.KeyPrefix,
			Model:     cfg.Model,
			TTL:       time.Duration(cfg.CacheTTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, a.logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, providerName, cfg.Model, a.logger).
		WithMaxBatch(cfg.MaxBatch)

	retryCfg := embeddinguc.DefaultRetryConfig()
	if cfg.Retries != nil {
		retryCfg.Retries = *cfg.Retries
	}
	retryCfg.Timeout = cfg.Timeout()
	embedder = embeddinguc.NewRetryEmbedder(embedder, retryCfg, a.logger)

	// Instruction prefix (outermost, so the cache key includes it)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// healthEmbedder probes the embedding endpoint without the instruction or retry layers.
func (a *app) healthEmbedder() healthuc.ProviderChecker {
	cfg := a.cfg.Embedding
	return openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Provider: providerName,
		Logger:   a.logger,
	})
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
