package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/query"
)

type parquetRecord struct {
	Query            string  `parquet:"query"`
	GeneratedSQL     string  `parquet:"generated_sql"`
	ElapsedSeconds   float64 `parquet:"elapsed_seconds"`
	ExecutedAtUnixMs int64   `parquet:"executed_at_unix_ms"`
}

type EncodeResult struct {
	Data           []byte
	RecordCount    int64
	OldestExecuted time.Time
	NewestExecuted time.Time
}

func EncodeHistory(records []query.HistoryRecord) (EncodeResult, error) {
	if len(records) == 0 {
		return EncodeResult{}, ErrEmptyHistory
	}

	rows := make([]parquetRecord, 0, len(records))
	result := EncodeResult{RecordCount: int64(len(records))}
	for _, record := range records {
		executedAt := record.ExecutedAt.UTC()
		rows = append(rows, parquetRecord{
			Query:            record.Query,
			GeneratedSQL:     record.GeneratedSQL,
			ElapsedSeconds:   record.ElapsedSeconds,
			ExecutedAtUnixMs: executedAt.UnixMilli(),
		})
		if result.OldestExecuted.IsZero() || executedAt.Before(result.OldestExecuted) {
			result.OldestExecuted = executedAt
		}
		if executedAt.After(result.NewestExecuted) {
			result.NewestExecuted = executedAt
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	result.Data = buf.Bytes()
	return result, nil
}

// DecodeHistory reads back an archive produced by EncodeHistory. Execution
// times keep millisecond precision.
func DecodeHistory(data []byte) ([]query.HistoryRecord, error) {
	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetRecord, reader.NumRows())
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	records := make([]query.HistoryRecord, 0, count)
	for _, row := range rows[:count] {
		records = append(records, query.HistoryRecord{
			Query:          row.Query,
			GeneratedSQL:   row.GeneratedSQL,
			ElapsedSeconds: row.ElapsedSeconds,
			ExecutedAt:     time.UnixMilli(row.ExecutedAtUnixMs).UTC(),
		})
	}
	return records, nil
}
