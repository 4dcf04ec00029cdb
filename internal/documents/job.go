package documents

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var ErrJobNotFound = errors.New("ingestion job not found")

type Status string

const (
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

const DefaultMaxJobs = 1000

type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Key      string `json:"key"`
	IndexKey string `json:"index_key"`
	Size     int64  `json:"size"`
}

type Job struct {
	ID          string      `json:"job_id"`
	Status      Status      `json:"status"`
	Processed   int         `json:"processed"`
	Total       int         `json:"total"`
	Errors      []FileError `json:"errors"`
	Documents   []Document  `json:"documents"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (j Job) clone() Job {
	j.Errors = append([]FileError{}, j.Errors...)
	j.Documents = append([]Document{}, j.Documents...)
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		j.CompletedAt = &completed
	}
	return j
}

// JobStore keeps the most recent ingestion jobs in memory. The oldest job is
// forgotten once the bound is reached.
type JobStore struct {
	mu   sync.Mutex
	jobs *simplelru.LRU[string, Job]
}

func NewJobStore(maxJobs int) *JobStore {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	jobs, err := simplelru.NewLRU[string, Job](maxJobs, nil)
	if err != nil {
		// NewLRU only rejects non-positive sizes.
		panic(err)
	}
	return &JobStore{jobs: jobs}
}

func (s *JobStore) Save(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs.Add(job.ID, job.clone())
}

func (s *JobStore) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs.Peek(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.clone(), nil
}

func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}
