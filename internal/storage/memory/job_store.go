// Package memory provides in-process implementations of the registry stores
// for development, tests, and single-replica deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

// JobStore keeps one record per job ID. The map lock is held only to look up
// or insert an entry; reads and mutations serialize on the entry's own lock,
// so work on one job never waits on another.
type JobStore struct {
	mu      sync.RWMutex
	entries map[string]*jobEntry
}

type jobEntry struct {
	mu  sync.Mutex
	job jobs.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{entries: make(map[string]*jobEntry)}
}

// Create stores a new record, failing with jobs.ErrAlreadyExists on ID reuse.
func (s *JobStore) Create(_ context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, jobs.ErrAlreadyExists)
	}
	s.entries[job.ID] = &jobEntry{job: job.Clone()}
	return nil
}

// Get returns a copy of the record or jobs.ErrNotFound.
func (s *JobStore) Get(_ context.Context, id string) (jobs.Job, error) {
	entry := s.lookup(id)
	if entry == nil {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", id, jobs.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// Put overwrites the record for job.ID, creating it if needed.
func (s *JobStore) Put(_ context.Context, job jobs.Job) error {
	entry := s.lookup(job.ID)
	if entry == nil {
		s.mu.Lock()
		entry = s.entries[job.ID]
		if entry == nil {
			s.entries[job.ID] = &jobEntry{job: job.Clone()}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.job = job.Clone()
	return nil
}

// Mutate applies fn to a copy of the record under the entry lock and stores
// the result unless fn fails. The ID is pinned: fn cannot rename a record.
func (s *JobStore) Mutate(_ context.Context, id string, fn jobs.MutateFunc) (jobs.Job, error) {
	entry := s.lookup(id)
	if entry == nil {
		return jobs.Job{}, fmt.Errorf("mutate job %s: %w", id, jobs.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	working := entry.job.Clone()
	if err := fn(&working); err != nil {
		return entry.job.Clone(), err
	}
	working.ID = id
	entry.job = working
	return working.Clone(), nil
}

// Len reports the number of stored records.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *JobStore) lookup(id string) *jobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}
