package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/documents"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type QueryProcessor interface {
	Process(ctx context.Context, raw string) (query.Result, error)
}

type HistoryReader interface {
	Snapshot() []query.HistoryRecord
}

type SchemaDiscoverer interface {
	Discover(ctx context.Context) (schema.Snapshot, error)
}

// DatabaseDiscoverer inspects a caller-supplied connection string.
type DatabaseDiscoverer func(ctx context.Context, dsn string) (schema.Snapshot, error)

type DocumentIngestor interface {
	Ingest(ctx context.Context, uploads []documents.Upload) (documents.Job, error)
	Status(id string) (documents.Job, error)
}

type HistoryArchiver interface {
	Archive(ctx context.Context) (archive.Result, error)
	List(ctx context.Context) ([]storage.ObjectInfo, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Queries           QueryProcessor
	History           HistoryReader
	Schema            SchemaDiscoverer
	DiscoverDatabase  DatabaseDiscoverer
	Documents         DocumentIngestor
	Archiver          HistoryArchiver
	MaxUploadBytes    int64
	UI                http.Handler

	allowDuckDBDiscovery bool
}

type route struct {
	pattern string
	handler func(deps Dependencies, w http.ResponseWriter, r *http.Request)
}

var protectedRoutes = []route{
	{"POST /api/query", handleQuery},
	{"GET /api/query/history", handleHistory},
	{"POST /api/query/history/archive", handleArchiveHistory},
	{"GET /api/query/history/archives", handleListArchives},
	{"GET /api/schema", handleSchema},
	{"POST /api/schema/match", handleSchemaMatch},
	{"POST /api/ingest/database", handleIngestDatabase},
	{"POST /api/ingest/documents", handleIngestDocuments},
	{"GET /api/ingest/status/{job_id}", handleIngestStatus},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = cfg.Documents.MaxUploadBytes
	}
	deps.allowDuckDBDiscovery = cfg.Discovery.AllowDuckDB

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /api/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /api/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range protectedRoutes {
		handle := rt.handler
		protected.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range protectedRoutes {
		mux.Handle(rt.pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseURL(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.URL == "" {
			return errors.New("database url is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
