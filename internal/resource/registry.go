// Package resource tracks the external resource each job holds so a
// cancellation can tear it down from another goroutine.
package resource

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/places-scraper/internal/job"
)

type entry struct {
	handle job.ResourceHandle
	once   sync.Once
	err    error
}

// release runs the physical release at most once. Later callers get nil.
func (e *entry) release() error {
	released := false
	e.once.Do(func() {
		e.err = e.handle.Release()
		released = true
	})
	if !released {
		return nil
	}
	return e.err
}

// Registry maps job ids to their currently held handle.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register records h for jobID and returns the scoped release func. A
// handle already registered for the job is released first.
func (r *Registry) Register(jobID string, h job.ResourceHandle) func() error {
	e := &entry{handle: h}
	r.mu.Lock()
	prev := r.entries[jobID]
	r.entries[jobID] = e
	r.mu.Unlock()
	if prev != nil {
		_ = prev.release()
	}
	return func() error {
		r.mu.Lock()
		if r.entries[jobID] == e {
			delete(r.entries, jobID)
		}
		r.mu.Unlock()
		return e.release()
	}
}

// ForceRelease deregisters and releases the job's handle, if any. The
// release runs synchronously outside the lock.
func (r *Registry) ForceRelease(jobID string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	if ok {
		delete(r.entries, jobID)
	}
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := e.release(); err != nil {
		return true, fmt.Errorf("release resource for job %s: %w", jobID, err)
	}
	return true, nil
}

// ReleaseAll force-releases every registered handle.
func (r *Registry) ReleaseAll() []error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	var errs []error
	for id, e := range entries {
		if err := e.release(); err != nil {
			errs = append(errs, fmt.Errorf("release resource for job %s: %w", id, err))
		}
	}
	return errs
}

// Held reports whether a handle is registered for jobID.
func (r *Registry) Held(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jobID]
	return ok
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
