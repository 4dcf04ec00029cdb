package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/documents"
	"github.com/askdb/askdb/internal/observability"
)

const multipartMemoryBytes = 8 << 20

type ingestDatabaseRequest struct {
	ConnectionString string `json:"connection_string"`
}

type ingestDocumentsResponse struct {
	JobID     string                `json:"job_id"`
	Status    documents.Status      `json:"status"`
	Processed int                   `json:"processed"`
	Total     int                   `json:"total"`
	Errors    []documents.FileError `json:"errors"`
}

func handleIngestDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.DiscoverDatabase == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "database ingestion is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	dsn, err := connectionString(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid ingest request body", false, map[string]any{"details": err.Error()})
		return
	}
	if dsn == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_STRING_REQUIRED", "connection_string is required", false, nil)
		return
	}
	if target, err := database.ResolveDSN(dsn); err == nil && target.Driver == database.DriverDuckDB && !deps.allowDuckDBDiscovery {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_DRIVER_NOT_ALLOWED", "duckdb connection strings are disabled for database ingestion", false, nil)
		return
	}

	snapshot, err := deps.DiscoverDatabase(r.Context(), dsn)
	if err != nil {
		if logger := observability.LoggerWithTrace(r.Context(), deps.Logger); logger != nil {
			logger.WarnContext(r.Context(), "ad hoc database discovery failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_CONNECT_FAILED", "Failed to connect: "+err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "schema": tablesOf(snapshot)})
}

// connectionString accepts either a JSON body or a form field.
func connectionString(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var request ingestDatabaseRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&request); err != nil {
			return "", err
		}
		return strings.TrimSpace(request.ConnectionString), nil
	}
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
			return "", err
		}
	} else if err := r.ParseForm(); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.FormValue("connection_string")), nil
}

func handleIngestDocuments(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Documents == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "document ingestion requires an object store", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDocumentWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the configured size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "request must be multipart/form-data", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "FILES_REQUIRED", "at least one file is required in the files field", false, nil)
		return
	}
	uploads := make([]documents.Upload, 0, len(headers))
	for _, header := range headers {
		uploads = append(uploads, uploadFromHeader(header))
	}

	job, err := deps.Documents.Ingest(r.Context(), uploads)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "INGEST_FAILED", "document ingestion failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ingestDocumentsResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
		Errors:    job.Errors,
	})
}

func uploadFromHeader(header *multipart.FileHeader) documents.Upload {
	return documents.Upload{
		Name: header.Filename,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}
}

func handleIngestStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Documents == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "document ingestion requires an object store", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDocumentWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	jobID := strings.TrimSpace(r.PathValue("job_id"))
	job, err := deps.Documents.Status(jobID)
	if err != nil {
		if errors.Is(err, documents.ErrJobNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", false, map[string]any{"job_id": jobID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "JOB_LOOKUP_FAILED", "failed to load ingestion job", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
