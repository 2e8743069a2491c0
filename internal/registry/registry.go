// Package registry owns the authoritative in-memory set of job records.
//
// Every mutation runs under one mutex and is mirrored to the durable state
// store inside the same critical section, so the store never observes
// writes out of order. A failed durable write is logged and counted; the
// in-memory record stays authoritative.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/metrics"
)

// Mutator edits a record copy and reports whether it changed anything.
type Mutator func(rec *job.Record) bool

// Registry is the single owner of job records.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]job.Record
	lastID string
	store  job.StateStore
	ids    job.IDGenerator
	clock  job.Clock
	logger *zap.Logger
}

// Open loads the durable state and forces every record that was active
// when the previous process stopped into failed.
func Open(
	ctx context.Context,
	store job.StateStore,
	ids job.IDGenerator,
	clock job.Clock,
	logger *zap.Logger,
) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		jobs:   make(map[string]job.Record),
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}

	recs, err := store.LoadJobs(ctx)
	if err != nil {
		logger.Warn("job state unreadable, starting empty", zap.Error(err))
		recs = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := clock.Now()
	var newest job.Record
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		if rec.Status.Active() {
			logger.Warn("marking interrupted job failed",
				zap.String("job_id", rec.ID),
				zap.String("status", string(rec.Status)),
			)
			rec.Status = job.StatusFailed
			rec.Error = job.ErrMsgRestarted
			rec.ClearCurrent()
			rec.CompletedAt = &now
			r.persistLocked(ctx, "save_job", rec.ID, func(ctx context.Context) error {
				return store.SaveJob(ctx, rec)
			})
		}
		if rec.Results == nil {
			rec.Results = []job.QueryResult{}
		}
		r.jobs[rec.ID] = rec
		if newest.ID == "" || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}

	lastID, err := store.LastJobID(ctx)
	if err != nil {
		logger.Warn("last job pointer unreadable", zap.Error(err))
	}
	if lastID == "" && newest.ID != "" {
		lastID = newest.ID
		r.persistLocked(ctx, "set_last_job_id", lastID, func(ctx context.Context) error {
			return store.SetLastJobID(ctx, lastID)
		})
	}
	r.lastID = lastID
	logger.Info("job registry loaded", zap.Int("jobs", len(r.jobs)), zap.String("last_job_id", lastID))
	return r, nil
}

// Create validates the submission, records a queued job and advances the
// last created pointer.
func (r *Registry) Create(ctx context.Context, queries []string, location string) (job.Record, error) {
	cleaned := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if len(cleaned) == 0 {
		return job.Record{}, &job.ValidationError{Field: "queries", Reason: "at least one query is required"}
	}
	id, err := r.ids.NewID()
	if err != nil {
		return job.Record{}, fmt.Errorf("generate job id: %w", err)
	}
	rec := job.Record{
		ID:           id,
		Status:       job.StatusQueued,
		Queries:      cleaned,
		Location:     strings.TrimSpace(location),
		Results:      []job.QueryResult{},
		TotalQueries: len(cleaned),
		CreatedAt:    r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = rec
	r.lastID = id
	r.persistLocked(ctx, "save_job", id, func(ctx context.Context) error {
		return r.store.SaveJob(ctx, rec)
	})
	r.persistLocked(ctx, "set_last_job_id", id, func(ctx context.Context) error {
		return r.store.SetLastJobID(ctx, id)
	})
	return rec.Clone(), nil
}

// Get returns a copy of the record.
func (r *Registry) Get(jobID string) (job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[jobID]
	if !ok {
		return job.Record{}, job.ErrNotFound
	}
	return rec.Clone(), nil
}

// Update applies fn to a copy of the record and commits it when fn reports
// a change that keeps the state machine and bookkeeping valid. Terminal
// records never change. Completion time is stamped on entry to a terminal
// status.
func (r *Registry) Update(ctx context.Context, jobID string, fn Mutator) (job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[jobID]
	if !ok {
		return job.Record{}, job.ErrNotFound
	}
	next := cur.Clone()
	if !fn(&next) {
		return cur.Clone(), nil
	}
	if !job.CanTransition(cur.Status, next.Status) {
		return cur.Clone(), fmt.Errorf("%w: %s -> %s", job.ErrInvalidTransition, cur.Status, next.Status)
	}
	if err := next.Check(); err != nil {
		return cur.Clone(), err
	}
	if next.Status.Terminal() && next.CompletedAt == nil {
		now := r.clock.Now()
		next.CompletedAt = &now
	}
	r.jobs[jobID] = next
	r.persistLocked(ctx, "save_job", jobID, func(ctx context.Context) error {
		return r.store.SaveJob(ctx, next)
	})
	return next.Clone(), nil
}

// ListActive returns every non-terminal record, oldest first.
func (r *Registry) ListActive() []job.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []job.Record
	for _, rec := range r.jobs {
		if rec.Status.Active() {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b job.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// LastCreatedID returns the last created job pointer, which may reference
// a job that has since been cleared.
func (r *Registry) LastCreatedID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}

// Delete removes a finished record and clears the last created pointer
// when it referenced the job.
func (r *Registry) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[jobID]
	if !ok {
		return job.ErrNotFound
	}
	if rec.Status.Active() {
		return fmt.Errorf("%w: %s is %s", job.ErrJobActive, jobID, rec.Status)
	}
	delete(r.jobs, jobID)
	r.persistLocked(ctx, "delete_job", jobID, func(ctx context.Context) error {
		return r.store.DeleteJob(ctx, jobID)
	})
	if r.lastID == jobID {
		r.lastID = ""
		r.persistLocked(ctx, "set_last_job_id", jobID, func(ctx context.Context) error {
			return r.store.SetLastJobID(ctx, "")
		})
	}
	return nil
}

// Len returns the number of records held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// persistLocked must be called with r.mu held. The write ignores caller
// cancellation so an abandoned request cannot drop it.
func (r *Registry) persistLocked(ctx context.Context, op, jobID string, write func(context.Context) error) {
	if err := write(context.WithoutCancel(ctx)); err != nil {
		metrics.ObservePersistenceFailure(op)
		r.logger.Error("durable write failed",
			zap.String("job_id", jobID),
			zap.Error(&job.PersistenceError{JobID: jobID, Op: op, Err: err}),
		)
	}
}
