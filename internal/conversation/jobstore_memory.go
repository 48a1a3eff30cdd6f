package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
)

// MemoryJobStore tracks extraction jobs in process memory.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]JobRecord
}

var _ JobRecorder = (*MemoryJobStore)(nil)
var _ JobUpdater = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]JobRecord)}
}

func (s *MemoryJobStore) PutPending(_ context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return ErrJobExists
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	job.Status = JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	job.Applied = append([]string(nil), job.Applied...)
	return &job, nil
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, jobID string, report leads.MergeReport) error {
	return s.update(jobID, func(j *JobRecord) {
		j.Status = JobStatusCompleted
		j.Applied = report.Applied()
		j.ErrorMessage = ""
	})
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	return s.update(jobID, func(j *JobRecord) {
		j.Status = JobStatusFailed
		j.ErrorMessage = errMsg
		j.Attempts++
	})
}

func (s *MemoryJobStore) update(jobID string, fn func(*JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.jobs[jobID] = job
	return nil
}
