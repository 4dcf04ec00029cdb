package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

type queryRequest struct {
	Query string `json:"query"`
}

type archiveEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	request, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	result, err := deps.Queries.Process(r.Context(), request.Query)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrEmptyQuery):
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		case errors.Is(err, schema.ErrDiscovery):
			writeError(r.Context(), w, http.StatusBadGateway, "DATABASE_UNAVAILABLE", "database schema could not be discovered", true, map[string]any{"details": err.Error()})
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "query processing failed", true, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, queryResponse(result))
}

// queryResponse keeps the three result shapes apart: rows on success, a null
// generated_sql for translation misses, and the failing SQL for execution
// errors.
func queryResponse(result query.Result) map[string]any {
	response := map[string]any{
		"generated_sql": result.GeneratedSQL,
		"response_time": result.ElapsedSeconds,
		"cache_hit":     result.CacheHit,
	}
	if result.Error != "" {
		response["error"] = result.Error
		return response
	}
	rows := result.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	response["results"] = rows
	return response
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	history := deps.History.Snapshot()
	if history == nil {
		history = []query.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func handleArchiveHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "history archiving requires an object store", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	result, err := deps.Archiver.Archive(r.Context())
	if err != nil {
		if errors.Is(err, archive.ErrEmptyHistory) {
			writeError(r.Context(), w, http.StatusConflict, "HISTORY_EMPTY", "there is no query history to archive", false, nil)
			return
		}
		if logger := observability.LoggerWithTrace(r.Context(), deps.Logger); logger != nil {
			logger.ErrorContext(r.Context(), "history archive failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_FAILED", "failed to archive query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func handleListArchives(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "history archiving requires an object store", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	objects, err := deps.Archiver.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_LIST_FAILED", "failed to list history archives", true, map[string]any{"details": err.Error()})
		return
	}
	archives := make([]archiveEntry, 0, len(objects))
	for _, object := range objects {
		archives = append(archives, archiveEntry{Key: object.Key, Size: object.Size, LastModified: object.LastModified.UTC()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return queryRequest{}, false
	}
	if request.Query == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return queryRequest{}, false
	}
	return request, true
}
