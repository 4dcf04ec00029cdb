package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/storage"
)

var ErrEmptyHistory = errors.New("query history is empty")

type HistorySource interface {
	Snapshot() []query.HistoryRecord
}

type Result struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	Records int64     `json:"records"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}

// Archiver writes the current query history to the object store as a single
// parquet file. The in-memory history is left as it is.
type Archiver struct {
	History HistorySource
	Store   storage.ObjectStore
	Logger  *slog.Logger
	Clock   func() time.Time

	sequence atomic.Int64
}

func (a *Archiver) Archive(ctx context.Context) (Result, error) {
	result, err := a.archive(ctx)
	observability.ObserveHistoryArchive(err)
	return result, err
}

func (a *Archiver) archive(ctx context.Context) (Result, error) {
	if a.History == nil || a.Store == nil {
		return Result{}, fmt.Errorf("history and object store are required")
	}
	clock := a.Clock
	if clock == nil {
		clock = time.Now
	}

	encoded, err := EncodeHistory(a.History.Snapshot())
	if err != nil {
		return Result{}, err
	}

	key, err := storage.BuildHistoryArchivePath(clock(), int(a.sequence.Add(1)%100000))
	if err != nil {
		return Result{}, fmt.Errorf("build archive path: %w", err)
	}
	info, err := a.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return Result{}, fmt.Errorf("put history archive: %w", err)
	}

	if a.Logger != nil {
		a.Logger.InfoContext(ctx, "query history archived",
			slog.String("key", key),
			slog.Int64("records", encoded.RecordCount),
			slog.Int("bytes", len(encoded.Data)),
		)
	}
	size := info.Size
	if size == 0 {
		size = int64(len(encoded.Data))
	}
	return Result{
		Key:     key,
		Size:    size,
		Records: encoded.RecordCount,
		From:    encoded.OldestExecuted,
		To:      encoded.NewestExecuted,
	}, nil
}

// List returns the archives already written, oldest key first.
func (a *Archiver) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	if a.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return a.Store.List(ctx, storage.ArchivesRoot)
}
