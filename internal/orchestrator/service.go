// Package orchestrator is the control plane over scrape jobs: submit,
// status, cancel, active job and clear.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/cancel"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/progress"
	"github.com/JakeFAU/places-scraper/internal/registry"
	"github.com/JakeFAU/places-scraper/internal/resource"
)

// Starter launches the worker for a freshly created job.
type Starter interface {
	Start(jobID string)
}

// Submission is returned when a job is accepted.
type Submission struct {
	JobID        string `json:"job_id"`
	TotalQueries int    `json:"total_queries"`
}

// Service coordinates the registry, cancellation flags, resource registry
// and scheduler.
type Service struct {
	jobs      *registry.Registry
	flags     *cancel.Flags
	resources *resource.Registry
	starter   Starter
	events    progress.Emitter
	clock     job.Clock
	logger    *zap.Logger
}

// New constructs a Service. events may be nil.
func New(
	jobs *registry.Registry,
	flags *cancel.Flags,
	resources *resource.Registry,
	starter Starter,
	events progress.Emitter,
	clock job.Clock,
	logger *zap.Logger,
) *Service {
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		jobs:      jobs,
		flags:     flags,
		resources: resources,
		starter:   starter,
		events:    events,
		clock:     clock,
		logger:    logger,
	}
}

// Submit records a queued job and starts its worker without waiting.
func (s *Service) Submit(ctx context.Context, queries []string, location string) (Submission, error) {
	rec, err := s.jobs.Create(ctx, queries, location)
	if err != nil {
		return Submission{}, err
	}
	s.events.Emit(progress.Event{JobID: rec.ID, TS: s.clock.Now(), Stage: progress.StageJobSubmitted})
	s.starter.Start(rec.ID)
	s.logger.Info("job submitted",
		zap.String("job_id", rec.ID),
		zap.Int("queries", rec.TotalQueries),
		zap.String("location", rec.Location),
	)
	return Submission{JobID: rec.ID, TotalQueries: rec.TotalQueries}, nil
}

// Status returns a copy of the job's record.
func (s *Service) Status(jobID string) (job.Record, error) {
	return s.jobs.Get(jobID)
}

// Cancel requests termination and returns without waiting for the worker.
// The job's browser, if any, is torn down before Cancel returns. Cancelling
// a finished job is a no-op.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	rec, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	metrics.ObserveCancelRequest(string(rec.Status))
	log := s.logger.With(zap.String("job_id", jobID))
	if rec.Status.Terminal() {
		log.Debug("cancel ignored for finished job", zap.String("status", string(rec.Status)))
		return nil
	}

	fired := s.flags.Set(jobID)
	released, rerr := s.resources.ForceRelease(jobID)
	if released {
		metrics.ObserveForcedRelease(rerr == nil)
		if rerr != nil {
			log.Warn("forced browser release failed", zap.Error(rerr))
		}
	}

	updated, err := s.jobs.Update(ctx, jobID, func(r *job.Record) bool {
		if r.Status.Terminal() || r.Status == job.StatusTerminating {
			return false
		}
		r.Status = job.StatusTerminating
		r.StopQuery()
		return true
	})
	if err != nil && !errors.Is(err, job.ErrNotFound) {
		return fmt.Errorf("mark job terminating: %w", err)
	}
	if updated.Status.Terminal() || errors.Is(err, job.ErrNotFound) {
		// The worker finished first and already dropped its token.
		s.flags.Remove(jobID)
	}
	if fired {
		s.events.Emit(progress.Event{JobID: jobID, TS: s.clock.Now(), Stage: progress.StageCancelRequested})
		log.Info("cancel requested", zap.Bool("browser_released", released))
	}
	return nil
}

// Active returns the oldest job still queued, processing or terminating.
// Failing that it returns the last created job while it is still held.
func (s *Service) Active() (job.Record, bool) {
	if active := s.jobs.ListActive(); len(active) > 0 {
		return active[0], true
	}
	last := s.jobs.LastCreatedID()
	if last == "" {
		return job.Record{}, false
	}
	rec, err := s.jobs.Get(last)
	if err != nil {
		return job.Record{}, false
	}
	return rec, true
}

// Clear removes a finished job. Active jobs are refused, not cancelled.
func (s *Service) Clear(ctx context.Context, jobID string) error {
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job cleared", zap.String("job_id", jobID))
	return nil
}

// ActiveOutputs returns the output refs currently being written.
func (s *Service) ActiveOutputs() map[string]bool {
	out := make(map[string]bool)
	for _, rec := range s.jobs.ListActive() {
		if rec.CurrentOutputRef != "" {
			out[rec.CurrentOutputRef] = true
		}
	}
	return out
}

// Shutdown force-releases every registered browser. Records are left as
// they are; the next start marks unfinished jobs failed.
func (s *Service) Shutdown() error {
	errs := s.resources.ReleaseAll()
	for _, err := range errs {
		metrics.ObserveForcedRelease(false)
		s.logger.Warn("release on shutdown failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
