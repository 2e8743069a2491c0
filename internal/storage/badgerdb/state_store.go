// Package badgerdb implements the job state store on an embedded BadgerDB.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/places-scraper/internal/job"
)

const (
	jobPrefix  = "job:"
	lastJobKey = "meta:last_job_id"
)

// Config selects the database directory. InMemory ignores Path.
type Config struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// StateStore keeps one JSON document per job under "job:<id>".
type StateStore struct {
	db *badger.DB
}

// New opens (or creates) the database.
func New(cfg Config) (*StateStore, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(cfg.Path) != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, fmt.Errorf("badger path is required")
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &StateStore{db: db}, nil
}

// LoadJobs scans every job document.
func (s *StateStore) LoadJobs(_ context.Context) ([]job.Record, error) {
	var out []job.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			var rec job.Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return out, nil
}

// SaveJob upserts a job document.
func (s *StateStore) SaveJob(_ context.Context, rec job.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(rec.ID), data)
	}); err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteJob removes a job document.
func (s *StateStore) DeleteJob(_ context.Context, jobID string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(jobID))
	}); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// LastJobID reads the pointer key.
func (s *StateStore) LastJobID(_ context.Context) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastJobKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = string(val)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read last job id: %w", err)
	}
	return id, nil
}

// SetLastJobID writes the pointer key; "" deletes it.
func (s *StateStore) SetLastJobID(_ context.Context, jobID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if jobID == "" {
			return txn.Delete([]byte(lastJobKey))
		}
		return txn.Set([]byte(lastJobKey), []byte(jobID))
	})
	if err != nil {
		return fmt.Errorf("write last job id: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *StateStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}
