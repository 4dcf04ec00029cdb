package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

const (
	DefaultPreviewChars = 4000
	DefaultMaxFileBytes = 32 << 20
)

// Upload is one file of a multipart ingestion request. Open is called once
// while the file is processed.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// IndexEntry is stored as JSON next to every document and carries a bounded
// text preview.
type IndexEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Text           string    `json:"text"`
	FullTextStored bool      `json:"full_text_stored"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

type Service struct {
	Store        storage.ObjectStore
	Jobs         *JobStore
	Logger       *slog.Logger
	Clock        func() time.Time
	NewID        func() string
	PreviewChars int
	MaxFileBytes int64

	defaultsOnce sync.Once
}

// Ingest stores every upload in order and records the outcome as a job. A
// failing file is noted in the job's errors and does not stop the rest.
func (s *Service) Ingest(ctx context.Context, uploads []Upload) (Job, error) {
	s.ensureDefaults()
	if s.Store == nil {
		return Job{}, fmt.Errorf("object store is required")
	}
	if len(uploads) == 0 {
		return Job{}, fmt.Errorf("at least one file is required")
	}

	job := Job{
		ID:        s.NewID(),
		Status:    StatusProcessing,
		Total:     len(uploads),
		Errors:    []FileError{},
		Documents: []Document{},
		CreatedAt: s.Clock().UTC(),
	}
	s.Jobs.Save(job)

	for index, upload := range uploads {
		document, err := s.storeUpload(ctx, job.ID, index, upload)
		observability.ObserveDocumentIngested(document.Size, err)
		if err != nil {
			job.Errors = append(job.Errors, FileError{File: upload.Name, Error: err.Error()})
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "document ingestion failed",
					slog.String("job_id", job.ID),
					slog.String("file", upload.Name),
					slog.Any("error", err),
				)
			}
		} else {
			job.Processed++
			job.Documents = append(job.Documents, document)
		}
		s.Jobs.Save(job)
	}

	job.Status = StatusCompleted
	if len(job.Errors) > 0 {
		job.Status = StatusCompletedWithErrors
	}
	completed := s.Clock().UTC()
	job.CompletedAt = &completed
	s.Jobs.Save(job)
	return job.clone(), nil
}

func (s *Service) Status(id string) (Job, error) {
	s.ensureDefaults()
	return s.Jobs.Get(id)
}

func (s *Service) storeUpload(ctx context.Context, jobID string, index int, upload Upload) (Document, error) {
	if upload.Open == nil {
		return Document{}, fmt.Errorf("file %q has no content", upload.Name)
	}
	key, err := storage.BuildDocumentPath(jobID, index, upload.Name)
	if err != nil {
		return Document{}, err
	}

	body, err := s.readUpload(upload)
	if err != nil {
		return Document{}, err
	}

	if _, err := s.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{
		ContentType: contentTypeFor(key),
		Metadata:    map[string]string{"original-name": upload.Name, "job-id": jobID},
	}); err != nil {
		return Document{}, fmt.Errorf("store document: %w", err)
	}

	entry := IndexEntry{
		ID:         path.Base(key),
		Name:       upload.Name,
		Path:       key,
		Text:       truncateRunes(ExtractText(upload.Name, body), s.PreviewChars),
		UploadedAt: s.Clock().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return Document{}, fmt.Errorf("encode index entry: %w", err)
	}
	indexKey := storage.BuildDocumentIndexPath(key)
	if _, err := s.Store.Put(ctx, indexKey, bytes.NewReader(encoded), int64(len(encoded)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		if delErr := s.Store.Delete(ctx, key); delErr != nil {
			return Document{}, fmt.Errorf("store index entry: %w (cleanup of %s failed: %v)", err, key, delErr)
		}
		return Document{}, fmt.Errorf("store index entry: %w", err)
	}

	return Document{
		ID:       entry.ID,
		Name:     upload.Name,
		Key:      key,
		IndexKey: indexKey,
		Size:     int64(len(body)),
	}, nil
}

var knownContentTypes = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func contentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if contentType, ok := knownContentTypes[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

func (s *Service) readUpload(upload Upload) ([]byte, error) {
	reader, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(io.LimitReader(reader, s.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(body)) > s.MaxFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", s.MaxFileBytes)
	}
	return body, nil
}

func (s *Service) ensureDefaults() {
	s.defaultsOnce.Do(s.applyDefaults)
}

func (s *Service) applyDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	if s.Jobs == nil {
		s.Jobs = NewJobStore(DefaultMaxJobs)
	}
	if s.PreviewChars <= 0 {
		s.PreviewChars = DefaultPreviewChars
	}
	if s.MaxFileBytes <= 0 {
		s.MaxFileBytes = DefaultMaxFileBytes
	}
}
