package store

import (
	"context"
	"sync"
	"time"

	"github.com/aimovie/api/internal/model"
)

// MemoryStore is the JobStore used when redis is not available: a guarded
// map of job records. Reads hand out copies so pollers never observe a
// half-applied update.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*model.Job)) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	return cloneJob(job), nil
}

func cloneJob(job *model.Job) *model.Job {
	clone := *job
	if job.StageResults != nil {
		clone.StageResults = make(map[string]string, len(job.StageResults))
		for k, v := range job.StageResults {
			clone.StageResults[k] = v
		}
	}
	if job.Error != nil {
		e := *job.Error
		clone.Error = &e
	}
	return &clone
}
