package api

import (
	"log/slog"
	"net/http"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema discovery is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snapshot, ok := discoverSchema(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": tablesOf(snapshot)})
}

func handleSchemaMatch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema discovery is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	request, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}
	snapshot, ok := discoverSchema(deps, w, r)
	if !ok {
		return
	}
	matches := schema.MapNLToSchema(request.Query, snapshot)
	if matches == nil {
		matches = []schema.TableMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func discoverSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) (schema.Snapshot, bool) {
	snapshot, err := deps.Schema.Discover(r.Context())
	observability.ObserveSchemaDiscovery(err)
	if err != nil {
		if logger := observability.LoggerWithTrace(r.Context(), deps.Logger); logger != nil {
			logger.ErrorContext(r.Context(), "schema discovery failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_DISCOVERY_FAILED", "Schema discovery failed: "+err.Error(), true, nil)
		return schema.Snapshot{}, false
	}
	return schema.Annotate(snapshot), true
}

func tablesOf(snapshot schema.Snapshot) map[string]schema.TableInfo {
	if snapshot.Tables == nil {
		return map[string]schema.TableInfo{}
	}
	return snapshot.Tables
}
