package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/handler"
	"github.com/xxxsen/docqa/internal/job"
	"github.com/xxxsen/docqa/internal/mcpserver"
	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/pkg/jwt"
	"github.com/xxxsen/docqa/internal/schedule"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:   "docqa",
		Short: "document question answering backend",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newRebuildCmd(&configPath),
		newImportCmd(&configPath),
		newCheckCmd(&configPath),
		newMCPCmd(&configPath),
		newTokenCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("embedder", a.embedder.ModelName()),
		zap.String("index_dir", cfg.Index.Dir),
	)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewPendingIngestJob(a.ingest, cfg.Jobs.PendingIngestBatch), cfg.Jobs.PendingIngestSpec); err != nil {
		return fmt.Errorf("schedule pending ingest: %w", err)
	}
	if cfg.Jobs.IndexAuditSpec != "" {
		if err := scheduler.AddJob(job.NewIndexAuditJob(a.indexAdmin), cfg.Jobs.IndexAuditSpec); err != nil {
			return fmt.Errorf("schedule index audit: %w", err)
		}
	}
	if cfg.Jobs.CacheCleanupSpec != "" && cfg.Embedding.DBCache {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Jobs.CacheMaxAgeDays), cfg.Jobs.CacheCleanupSpec); err != nil {
			return fmt.Errorf("schedule cache cleanup: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()
	if err := scheduler.Trigger("pending_ingest"); err != nil {
		return err
	}

	deps := handler.RouterDeps{
		Health:    handler.NewHealthHandler(a.db, a.index),
		Sources:   handler.NewSourceHandler(a.sources, cfg.MaxUploadMB<<20),
		Search:    handler.NewSearchHandler(a.search),
		Chats:     handler.NewChatHandler(a.chat),
		Index:     handler.NewIndexHandler(a.indexAdmin),
		JWTSecret: []byte(cfg.JWTSecret),
		RateLimit: time.Duration(cfg.RateLimitSeconds) * time.Second,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}

func newRebuildCmd(configPath *string) *cobra.Command {
	var reembed bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "rebuild the vector index from stored chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg.Index.RebuildOnCorruption = false
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var bar *progressbar.ProgressBar
			report, err := a.indexAdmin.Rebuild(ctx, reembed, func(done, total int64) {
				if bar == nil {
					bar = progressbar.NewOptions64(total,
						progressbar.OptionSetWidth(40),
						progressbar.OptionShowCount(),
						progressbar.OptionSetDescription("rebuilding"),
						progressbar.OptionOnCompletion(func() { fmt.Println() }),
					)
				}
				_ = bar.Set64(done)
			})
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d chunks (dimension %d, reembed=%t)\n", report.Chunks, report.Dimension, report.Reembed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reembed, "reembed", false, "recompute embeddings instead of using the stored ones")
	return cmd
}

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "report index status and divergence from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			cfg.Index.RebuildOnCorruption = false
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			status, err := a.indexAdmin.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("index: count=%d dimension=%d generation=%d model=%s\n",
				status.Count, status.Dimension, status.Generation, status.Model)
			if status.Corrupt {
				fmt.Printf("index is corrupted: %s\n", status.Reason)
				return fmt.Errorf("index corrupted, run rebuild")
			}
			report, err := a.indexAdmin.Audit(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("stored chunks: %d, orphaned entries: %d, missing entries: %d\n",
				report.Stored, len(report.Orphans), report.Missing)
			return nil
		},
	}
}

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "serve search and ask as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(*configPath)
			if err != nil {
				return err
			}
			// stdout carries the protocol stream
			cfg.LogConfig.Console = false
			initLogger(cfg, *configPath)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			srv, err := mcpserver.New(a.search, a.chat)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for the http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured, authentication is disabled")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.JWTTTLHours) * time.Hour
			}
			token, err := jwt.GenerateToken(userID, []byte(cfg.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt_ttl_hours)")
	return cmd
}
