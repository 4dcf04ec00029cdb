package query

import (
	"sync"
	"time"
)

const DefaultHistorySize = 100

type HistoryRecord struct {
	Query          string    `json:"query"`
	GeneratedSQL   string    `json:"generated_sql"`
	ElapsedSeconds float64   `json:"time"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// History is a fixed-capacity FIFO of executed queries. Appending to a full
// history drops the oldest record.
type History struct {
	mu       sync.Mutex
	capacity int
	records  []HistoryRecord
	head     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity, records: make([]HistoryRecord, 0, capacity)}
}

func (h *History) Append(record HistoryRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) < h.capacity {
		h.records = append(h.records, record)
		return
	}
	h.records[h.head] = record
	h.head = (h.head + 1) % h.capacity
}

// Snapshot copies the records out, oldest first.
func (h *History) Snapshot() []HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryRecord, 0, len(h.records))
	out = append(out, h.records[h.head:]...)
	out = append(out, h.records[:h.head]...)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *History) Capacity() int {
	return h.capacity
}
