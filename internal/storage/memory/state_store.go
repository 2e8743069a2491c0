package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// StateStore keeps job documents in process memory. Nothing survives a
// restart; use it for tests and throwaway runs.
type StateStore struct {
	mu     sync.RWMutex
	jobs   map[string]job.Record
	lastID string
	fail   error
}

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{jobs: make(map[string]job.Record)}
}

// FailWrites makes every subsequent write return err; nil restores writes.
func (s *StateStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// LoadJobs returns copies of every stored record.
func (s *StateStore) LoadJobs(_ context.Context) ([]job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]job.Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// SaveJob upserts a record.
func (s *StateStore) SaveJob(_ context.Context, rec job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.jobs[rec.ID] = rec.Clone()
	return nil
}

// DeleteJob removes a record; unknown ids are ignored.
func (s *StateStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	delete(s.jobs, jobID)
	return nil
}

// LastJobID returns the stored pointer.
func (s *StateStore) LastJobID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID, nil
}

// SetLastJobID stores the pointer.
func (s *StateStore) SetLastJobID(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.lastID = jobID
	return nil
}

// Job returns a stored record, mainly for assertions.
func (s *StateStore) Job(jobID string) (job.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return job.Record{}, false
	}
	return rec.Clone(), true
}

// Close implements job.StateStore.
func (s *StateStore) Close() error {
	return nil
}
