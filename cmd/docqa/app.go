package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/config"
	"github.com/xxxsen/docqa/internal/db"
	"github.com/xxxsen/docqa/internal/embedcache"
	"github.com/xxxsen/docqa/internal/extract"
	"github.com/xxxsen/docqa/internal/filestore"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/repo"
	"github.com/xxxsen/docqa/internal/service"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

const defaultCacheTTL = 2 * time.Hour

type app struct {
	cfg        *config.Config
	db         *sql.DB
	index      *vectorindex.Index
	embedder   ai.IEmbedder
	files      filestore.Store
	cacheRepo  *repo.EmbeddingCacheRepo
	ingest     *service.IngestService
	search     *service.SearchService
	chat       *service.ChatService
	sources    *service.SourceService
	indexAdmin *service.IndexService
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	initLogger(cfg, path)
	return cfg, nil
}

func readConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return config.Load(path)
}

func initLogger(cfg *config.Config, path string) {
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{cfg: cfg, db: conn}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	sourceRepo := repo.NewSourceRepo(a.db)
	chunkRepo := repo.NewChunkRepo(a.db)
	chatRepo := repo.NewChatRepo(a.db)
	a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	a.files = store

	embedder, err := buildEmbedder(cfg.Embedding, cfg.Index.Dimension, a.cacheRepo)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	a.embedder = embedder

	generator, err := buildGenerator(cfg.Generation)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}

	index, err := vectorindex.Open(cfg.Index.Dir,
		vectorindex.WithModel(embedder.ModelName()),
		vectorindex.WithDimension(cfg.Index.Dimension),
	)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	a.index = index

	extractor := extract.New(extract.Config{
		PdfToText:        cfg.Extract.PdfToText,
		URLTimeout:       time.Duration(cfg.Extract.URLTimeoutSeconds) * time.Second,
		MaxDownloadBytes: cfg.Extract.MaxDownloadMB << 20,
	}, store)

	gate := service.NewIndexGate()
	a.ingest = service.NewIngestService(sourceRepo, chunkRepo, extractor, embedder, index,
		cfg.Chunker.MaxSentences, time.Duration(cfg.Ingest.ClaimTTLSeconds)*time.Second, gate)
	a.search = service.NewSearchService(chunkRepo, embedder, index, cfg.Retrieval.TopK, cfg.Retrieval.MaxDistance)
	a.chat = service.NewChatService(chatRepo, a.search, generator, cfg.Generation.HistoryTurns)
	a.sources = service.NewSourceService(sourceRepo, chunkRepo, store, a.ingest)
	a.indexAdmin = service.NewIndexService(chunkRepo, embedder, index, gate)

	return a.loadIndex(ctx)
}

// loadIndex reads the persisted index. A corrupted index either triggers a
// rebuild or stays refusing searches until one is requested.
func (a *app) loadIndex(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	err := a.index.Load()
	if err == nil {
		st := a.index.Stats()
		logger.Info("index loaded", zap.Int("count", st.Count), zap.Int("dimension", st.Dimension),
			zap.Uint64("generation", st.Generation))
		return nil
	}
	if !errors.Is(err, appErr.ErrCorruption) {
		return fmt.Errorf("load index: %w", err)
	}
	if !a.cfg.Index.RebuildOnCorruption {
		logger.Error("index is corrupted, searches are refused until rebuild", zap.Error(err))
		return nil
	}
	logger.Warn("index is corrupted, rebuilding", zap.Error(err))
	report, err := a.indexAdmin.Rebuild(ctx, false, nil)
	if err != nil {
		return fmt.Errorf("rebuild corrupted index: %w", err)
	}
	logger.Info("index rebuilt after corruption", zap.Int("chunks", report.Chunks))
	return nil
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logutil.GetLogger(context.Background()).Error("close index", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildEmbedder(cfg config.EmbeddingConfig, dim int, cache embedcache.CacheStore) (ai.IEmbedder, error) {
	args := cfg.Data
	if args == nil && cfg.Provider == "local" {
		args = map[string]interface{}{"dimension": dim}
	}
	provider, err := ai.NewEmbedProvider(cfg.Provider, args)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimit > 0 {
		provider = ai.WrapRateLimit(provider, cfg.RateLimit, cfg.Burst)
	}
	embedder, err := ai.NewEmbedder(provider, ai.EmbedderConfig{
		Model:     cfg.Model,
		Dimension: dim,
		BatchSize: cfg.BatchSize,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBCache && cache != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cache)
	}
	if cfg.CacheSize > 0 {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, ttl)
	}
	return embedder, nil
}

func buildGenerator(cfg config.GenerationConfig) (ai.IGenerator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	entries := make([]ai.GeneratorEntry, 0, len(cfg.Generators))
	for _, g := range cfg.Generators {
		provider, err := ai.NewProvider(g.Provider, g.Data)
		if err != nil {
			return nil, fmt.Errorf("generator %s: %w", g.Name, err)
		}
		entries = append(entries, ai.GeneratorEntry{Name: g.Name, Generator: ai.NewGenerator(provider, g.Model, timeout)})
	}
	return ai.NewGroupGenerator(entries), nil
}
