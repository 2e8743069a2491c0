// Package worker runs one scrape job: its queries in submission order, with
// progress persisted around every query and cancellation checked between
// every step.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/cancel"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/progress"
	"github.com/JakeFAU/places-scraper/internal/registry"
	"github.com/JakeFAU/places-scraper/internal/resource"
)

// JobStore is the slice of the registry a worker needs.
type JobStore interface {
	Get(jobID string) (job.Record, error)
	Update(ctx context.Context, jobID string, fn registry.Mutator) (job.Record, error)
}

// Config controls Runner behavior.
type Config struct {
	// QueryDelay is the pause between consecutive queries.
	QueryDelay time.Duration
	// BlobPrefix prefixes archived output paths.
	BlobPrefix string
	// ContentType is attached to archived outputs.
	ContentType string
}

// Runner executes jobs one query at a time.
type Runner struct {
	jobs      JobStore
	flags     *cancel.Flags
	resources *resource.Registry
	extractor job.Extractor
	sink      job.ResultSink
	blobs     job.BlobStore
	events    progress.Emitter
	clock     job.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. blobs and events may be nil.
func New(
	jobs JobStore,
	flags *cancel.Flags,
	resources *resource.Registry,
	extractor job.Extractor,
	sink job.ResultSink,
	blobs job.BlobStore,
	events progress.Emitter,
	clock job.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.Nop{}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/csv; charset=utf-8"
	}
	return &Runner{
		jobs:      jobs,
		flags:     flags,
		resources: resources,
		extractor: extractor,
		sink:      sink,
		blobs:     blobs,
		events:    events,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeTerminated
	outcomeFailed
)

// Run drives jobID to a terminal status. It never returns early on error:
// every exit path records completed, failed or terminated.
func (w *Runner) Run(ctx context.Context, jobID string) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := w.logger.With(zap.String("job_id", jobID))
	tok := w.flags.Token(jobID)
	defer func() {
		w.flags.Remove(jobID)
		if held, err := w.resources.ForceRelease(jobID); held {
			metrics.ObserveForcedRelease(err == nil)
			if err != nil {
				log.Warn("release leftover browser on worker exit failed", zap.Error(err))
			} else {
				log.Warn("released leftover browser on worker exit")
			}
		}
	}()

	start := w.clock.Now()
	rec, err := w.jobs.Update(ctx, jobID, func(rec *job.Record) bool {
		if rec.Status != job.StatusQueued {
			return false
		}
		rec.Status = job.StatusProcessing
		rec.StartedAt = &start
		return true
	})
	if err != nil {
		log.Error("start job failed", zap.Error(err))
		return
	}
	if rec.Status.Terminal() {
		log.Debug("job already finished", zap.String("status", string(rec.Status)))
		return
	}

	oc, msg := outcomeTerminated, ""
	if rec.Status == job.StatusProcessing {
		log.Info("job started", zap.Int("queries", len(rec.Queries)))
		w.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStart})
		oc, msg = w.runQueries(ctx, rec, tok, log)
	}
	if tok.Cancelled() {
		oc = outcomeTerminated
	}

	final := w.finish(ctx, jobID, oc, msg, log)
	log.Info("job finished",
		zap.String("status", string(final.Status)),
		zap.Int("completed_queries", final.CompletedQueries),
		zap.String("error", final.Error),
	)
	w.emit(progress.Event{
		JobID:  jobID,
		Stage:  progress.StageJobDone,
		Status: string(final.Status),
		Dur:    w.clock.Now().Sub(start),
		Note:   final.Error,
	})
}

func (w *Runner) runQueries(ctx context.Context, rec job.Record, tok *cancel.Token, log *zap.Logger) (outcome, string) {
	for i := rec.CompletedQueries; i < len(rec.Queries); i++ {
		if tok.Cancelled() {
			return outcomeTerminated, ""
		}
		if err := ctx.Err(); err != nil {
			return outcomeFailed, "shutdown: " + err.Error()
		}
		res, oc, msg := w.runQuery(ctx, rec, i, tok, log)
		if res != nil {
			if err := w.recordResult(ctx, rec.ID, *res); err != nil {
				log.Error("record query result failed", zap.String("query", res.Query), zap.Error(err))
				return outcomeFailed, fmt.Sprintf("record result for %q: %v", res.Query, err)
			}
		}
		if oc != outcomeCompleted {
			return oc, msg
		}
		if i < len(rec.Queries)-1 && w.cfg.QueryDelay > 0 {
			cancel.Sleep(ctx, w.cfg.QueryDelay, tok.Cancelled)
		}
	}
	return outcomeCompleted, ""
}

// runQuery runs one query and returns its result, if it produced one, and
// whether the job may continue.
func (w *Runner) runQuery(
	ctx context.Context,
	rec job.Record,
	i int,
	tok *cancel.Token,
	log *zap.Logger,
) (*job.QueryResult, outcome, string) {
	query := rec.Queries[i]
	qlog := log.With(zap.String("query", query), zap.Int("query_index", i+1))

	out, err := w.sink.Create(query, rec.Location)
	if err != nil {
		qlog.Error("create output failed", zap.Error(err))
		res := job.Errored(query, fmt.Sprintf("create output: %v", err), w.clock.Now())
		w.emitQuery(rec.ID, progress.StageQueryError, query, i, "", 0, 0, res.Error)
		return &res, outcomeCompleted, ""
	}
	ref := out.Ref()
	if _, err := w.jobs.Update(ctx, rec.ID, func(r *job.Record) bool {
		if r.Status != job.StatusProcessing {
			return false
		}
		r.CurrentQuery = query
		r.CurrentQueryIndex = i + 1
		r.CurrentOutputRef = ref
		return true
	}); err != nil {
		qlog.Warn("record current query failed", zap.Error(err))
	}
	qlog.Info("query started", zap.String("output_ref", ref))
	w.emitQuery(rec.ID, progress.StageQueryStart, query, i, ref, 0, 0, "")

	qStart := w.clock.Now()
	_, xerr := w.extractor.Extract(ctx, job.ExtractRequest{
		JobID:     rec.ID,
		Query:     query,
		Location:  rec.Location,
		Output:    out,
		Cancelled: tok.Cancelled,
		Resources: w.resources,
	})
	if cerr := out.Close(); cerr != nil && xerr == nil {
		xerr = &job.ExtractionError{Query: query, Err: fmt.Errorf("close output: %w", cerr)}
	}
	count := out.Count()
	now := w.clock.Now()
	dur := now.Sub(qStart)

	var acq *job.ResourceAcquisitionError
	switch {
	case tok.Cancelled():
		msg := "terminated before completion"
		if count > 0 {
			msg = fmt.Sprintf("%s, %d records flushed to %s", msg, count, ref)
		} else {
			ref = w.markEmpty(ref, qlog)
		}
		qlog.Info("query interrupted by cancellation", zap.Int("records", count))
		w.emitQuery(rec.ID, progress.StageQueryError, query, i, ref, count, dur, msg)
		res := job.Errored(query, msg, now)
		return &res, outcomeTerminated, ""

	case errors.As(xerr, &acq):
		w.markEmpty(ref, qlog)
		qlog.Error("browser unavailable", zap.Error(xerr))
		w.emitQuery(rec.ID, progress.StageQueryError, query, i, ref, 0, dur, xerr.Error())
		return nil, outcomeFailed, xerr.Error()

	case ctx.Err() != nil:
		msg := "shutdown: " + ctx.Err().Error()
		w.emitQuery(rec.ID, progress.StageQueryError, query, i, ref, count, dur, msg)
		res := job.Errored(query, msg, now)
		return &res, outcomeFailed, msg

	case xerr != nil:
		msg := xerr.Error()
		if count > 0 {
			msg = fmt.Sprintf("%s (%d records flushed to %s)", msg, count, ref)
			w.archive(ctx, rec.ID, ref, qlog)
		} else {
			ref = w.markEmpty(ref, qlog)
		}
		qlog.Warn("query failed", zap.Int("records", count), zap.Error(xerr))
		w.emitQuery(rec.ID, progress.StageQueryError, query, i, ref, count, dur, msg)
		res := job.Errored(query, msg, now)
		return &res, outcomeCompleted, ""
	}

	if count == 0 {
		ref = w.markEmpty(ref, qlog)
	} else {
		w.archive(ctx, rec.ID, ref, qlog)
	}
	qlog.Info("query finished", zap.Int("records", count), zap.String("output_ref", ref), zap.Duration("duration", dur))
	w.emitQuery(rec.ID, progress.StageQueryDone, query, i, ref, count, dur, "")
	res := job.Succeeded(query, ref, count, now)
	return &res, outcomeCompleted, ""
}

func (w *Runner) recordResult(ctx context.Context, jobID string, res job.QueryResult) error {
	_, err := w.jobs.Update(ctx, jobID, func(r *job.Record) bool {
		r.Results = append(r.Results, res)
		r.CompletedQueries = len(r.Results)
		r.ClearCurrent()
		return true
	})
	return err
}

// finish moves the record to its terminal status. A job that is, or is
// about to be, terminating always ends terminated.
func (w *Runner) finish(ctx context.Context, jobID string, oc outcome, msg string, log *zap.Logger) job.Record {
	ctx = context.WithoutCancel(ctx)
	cur, err := w.jobs.Get(jobID)
	if err != nil {
		log.Error("load job for finish failed", zap.Error(err))
		return job.Record{ID: jobID, Status: job.StatusFailed, Error: err.Error()}
	}
	if cur.Status == job.StatusTerminating {
		oc = outcomeTerminated
	}
	if oc == outcomeTerminated && !cur.Status.Terminal() && cur.Status != job.StatusTerminating {
		if _, err := w.jobs.Update(ctx, jobID, func(r *job.Record) bool {
			if r.Status.Terminal() || r.Status == job.StatusTerminating {
				return false
			}
			r.Status = job.StatusTerminating
			return true
		}); err != nil {
			log.Error("mark job terminating failed", zap.Error(err))
		}
	}

	final, err := w.jobs.Update(ctx, jobID, func(r *job.Record) bool {
		if r.Status.Terminal() {
			return false
		}
		r.ClearCurrent()
		switch {
		case r.Status == job.StatusTerminating:
			r.Status = job.StatusTerminated
			r.Error = job.ErrMsgTerminated
		case oc == outcomeFailed:
			r.Status = job.StatusFailed
			r.Error = msg
		default:
			r.Status = job.StatusCompleted
		}
		return true
	})
	if err != nil {
		log.Error("finish job failed", zap.Error(err))
		// Last resort so the record cannot stay active.
		final, err = w.jobs.Update(ctx, jobID, func(r *job.Record) bool {
			if r.Status.Terminal() {
				return false
			}
			r.ClearCurrent()
			if r.Status == job.StatusTerminating {
				r.Status = job.StatusTerminated
				r.Error = job.ErrMsgTerminated
				return true
			}
			r.Status = job.StatusFailed
			r.Error = fmt.Sprintf("finish job: %v", err)
			return true
		})
		if err != nil {
			log.Error("fail job failed", zap.Error(err))
		}
	}
	return final
}

func (w *Runner) markEmpty(ref string, log *zap.Logger) string {
	renamed, err := w.sink.MarkEmpty(ref)
	if err != nil {
		log.Warn("tag empty output failed", zap.String("output_ref", ref), zap.Error(err))
		return ref
	}
	return renamed
}

// archive copies a finished output to the blob store, when one is set.
// Failures are logged; the local file stays the source of truth.
func (w *Runner) archive(ctx context.Context, jobID, ref string, log *zap.Logger) {
	if w.blobs == nil {
		return
	}
	p, err := w.sink.Path(ref)
	if err != nil {
		log.Warn("resolve output for archive failed", zap.Error(err))
		return
	}
	f, err := os.Open(p) //nolint:gosec // path resolved by the result sink
	if err != nil {
		log.Warn("open output for archive failed", zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	uri, err := w.blobs.PutObject(context.WithoutCancel(ctx), w.blobPath(jobID, ref), w.cfg.ContentType, f)
	if err != nil {
		log.Warn("archive output failed", zap.String("output_ref", ref), zap.Error(err))
		return
	}
	log.Debug("output archived", zap.String("uri", uri))
}

func (w *Runner) blobPath(jobID, ref string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return path.Join(jobID, ref)
	}
	return path.Join(prefix, jobID, ref)
}

func (w *Runner) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = w.clock.Now()
	}
	w.events.Emit(evt)
}

func (w *Runner) emitQuery(
	jobID string,
	stage progress.Stage,
	query string,
	i int,
	ref string,
	records int,
	dur time.Duration,
	note string,
) {
	w.emit(progress.Event{
		JobID:      jobID,
		Stage:      stage,
		Query:      query,
		QueryIndex: i + 1,
		Records:    records,
		OutputRef:  ref,
		Dur:        dur,
		Note:       note,
	})
}
