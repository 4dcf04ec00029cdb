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

	"golang.org/x/sync/errgroup"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/api/uistatic"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/documents"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if cfg.Database.URL == "" {
		logger.Error("ASKDB_DATABASE_URL (or DATABASE_URL) is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{
		DSN:             cfg.Database.URL,
		PoolSize:        cfg.Database.PoolSize,
		MaxOverflow:     cfg.Database.MaxOverflow,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	target, err := database.ResolveDSN(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to resolve database url", slog.Any("error", err))
		os.Exit(1)
	}
	schemaName := cfg.Database.Schema
	if schemaName == "" {
		schemaName = database.DefaultSchema(target.Driver)
	}
	inspector := schema.NewInspector(db, schema.Options{Schema: schemaName, Logger: logger})

	cache, err := query.NewResultCache(cfg.Query.CacheTTL, cfg.Query.CacheMaxEntries, time.Now)
	if err != nil {
		logger.Error("failed to build result cache", slog.Any("error", err))
		os.Exit(1)
	}
	history := query.NewHistory(cfg.Query.HistorySize)
	engine := &query.Engine{
		Discoverer: inspector,
		Translator: nl2sql.RuleTranslator{},
		Executor:   &query.SQLExecutor{DB: db},
		Cache:      cache,
		History:    history,
		Logger:     logger,
	}

	deps := api.Dependencies{
		Logger:  logger,
		Queries: engine,
		History: history,
		Schema:  inspector,
		DiscoverDatabase: func(ctx context.Context, dsn string) (schema.Snapshot, error) {
			return schema.DiscoverDSN(ctx, database.Config{
				DSN:         dsn,
				PoolSize:    cfg.Discovery.PoolSize,
				MaxOverflow: cfg.Discovery.MaxOverflow,
			}, schema.Options{Logger: logger})
		},
		MaxUploadBytes: cfg.Documents.MaxUploadBytes,
		UI:             uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			func(ctx context.Context) error { return database.Ping(ctx, db) },
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: 2 * time.Second,
	}

	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Documents = &documents.Service{
			Store:        objectStore,
			Logger:       logger,
			PreviewChars: cfg.Documents.PreviewChars,
			MaxFileBytes: cfg.Documents.MaxUploadBytes,
		}
		deps.Archiver = &archive.Archiver{History: history, Store: objectStore, Logger: logger}
	} else {
		logger.Info("object store disabled; document ingestion and history archives are unavailable")
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("database_driver", target.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down api server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
