// Package file persists job state as JSON documents on the local filesystem.
//
// Jobs live in a single jobs.json object keyed by job id and the last
// created job pointer lives in backend_state.json. Every write rewrites the
// whole document in place; a crash mid-write can lose or truncate it.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/places-scraper/internal/job"
)

const (
	jobsFile  = "jobs.json"
	stateFile = "backend_state.json"
)

// Config captures the state directory.
type Config struct {
	Dir string `mapstructure:"dir"`
}

type backendState struct {
	LastJobID *string `json:"last_job_id"`
}

// StateStore implements job.StateStore on two JSON files.
type StateStore struct {
	mu     sync.Mutex
	dir    string
	jobs   map[string]job.Record
	lastID string
}

// New creates the state directory when missing and reads any existing
// documents. Unreadable documents are reported by LoadJobs.
func New(cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &StateStore{dir: cfg.Dir, jobs: make(map[string]job.Record)}, nil
}

// LoadJobs reads jobs.json and caches it as the base for later writes.
func (s *StateStore) LoadJobs(_ context.Context) ([]job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(filepath.Join(s.dir, jobsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", jobsFile, err)
	}
	docs := make(map[string]job.Record)
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", jobsFile, err)
	}
	out := make([]job.Record, 0, len(docs))
	for id, rec := range docs {
		if rec.ID == "" {
			rec.ID = id
		}
		s.jobs[id] = rec
		out = append(out, rec.Clone())
	}
	return out, nil
}

// SaveJob upserts one record and rewrites jobs.json.
func (s *StateStore) SaveJob(_ context.Context, rec job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec.Clone()
	return s.writeJobs()
}

// DeleteJob drops one record and rewrites jobs.json.
func (s *StateStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return s.writeJobs()
}

// LastJobID reads backend_state.json.
func (s *StateStore) LastJobID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", stateFile, err)
	}
	var st backendState
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", fmt.Errorf("decode %s: %w", stateFile, err)
	}
	if st.LastJobID != nil {
		s.lastID = *st.LastJobID
	}
	return s.lastID, nil
}

// SetLastJobID rewrites backend_state.json. An empty id is stored as null.
func (s *StateStore) SetLastJobID(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := backendState{}
	if jobID != "" {
		st.LastJobID = &jobID
	}
	if err := s.write(stateFile, st); err != nil {
		return err
	}
	s.lastID = jobID
	return nil
}

// Close implements job.StateStore.
func (s *StateStore) Close() error {
	return nil
}

func (s *StateStore) writeJobs() error {
	return s.write(jobsFile, s.jobs)
}

func (s *StateStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
