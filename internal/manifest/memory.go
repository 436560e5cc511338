// internal/manifest/memory.go
package manifest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tendant/simple-batch/pkg/schema"
)

// MemoryStore keeps the manifest in process memory. Used by tests and by
// the memory driver in dev setups; state does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	batches map[string]*Batch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		batches: make(map[string]*Batch),
	}
}

func (s *MemoryStore) RecordJob(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("manifest: job %s already recorded", job.ID)
	}
	j := job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) CreateBatch(ctx context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("manifest: batch %s already exists", batch.ID)
	}
	b := batch
	b.JobIDs = append([]string(nil), batch.JobIDs...)
	s.batches[batch.ID] = &b
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, jobID string, status schema.JobStatus, exitCode *int, reason string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("manifest: invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if status.Rank() <= job.Status.Rank() {
		return false, nil
	}
	job.Status = status
	job.ExitCode = exitCode
	job.StatusReason = reason
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// ListJobs returns member rows in submission order. A concurrent status
// update may land between row reads; callers get a snapshot, not a
// consistent cut, which aggregation tolerates.
func (s *MemoryStore) ListJobs(ctx context.Context, batchID string) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	jobs := make([]Job, 0, len(batch.JobIDs))
	for _, id := range batch.JobIDs {
		if job, ok := s.jobs[id]; ok {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	b := *batch
	b.JobIDs = append([]string(nil), batch.JobIDs...)
	return b, nil
}
