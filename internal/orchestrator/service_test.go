package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/cancel"
	"github.com/JakeFAU/places-scraper/internal/clock/system"
	"github.com/JakeFAU/places-scraper/internal/dispatcher"
	"github.com/JakeFAU/places-scraper/internal/extract"
	"github.com/JakeFAU/places-scraper/internal/id/uuid"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/output"
	"github.com/JakeFAU/places-scraper/internal/registry"
	"github.com/JakeFAU/places-scraper/internal/resource"
	"github.com/JakeFAU/places-scraper/internal/storage/memory"
	"github.com/JakeFAU/places-scraper/internal/worker"
)

type fixture struct {
	svc       *Service
	jobs      *registry.Registry
	flags     *cancel.Flags
	resources *resource.Registry
	starter   *recordingStarter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobs, err := registry.Open(context.Background(), memory.NewStateStore(), uuid.New(), system.New(), zap.NewNop())
	require.NoError(t, err)
	f := &fixture{
		jobs:      jobs,
		flags:     cancel.NewFlags(),
		resources: resource.NewRegistry(),
		starter:   &recordingStarter{},
	}
	f.svc = New(f.jobs, f.flags, f.resources, f.starter, nil, system.New(), zap.NewNop())
	return f
}

func TestSubmitCreatesQueuedJobAndStartsWorker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"pizza", " ", "tacos"}, "Austin")
	require.NoError(t, err)
	assert.Equal(t, 2, sub.TotalQueries)
	assert.Equal(t, []string{sub.JobID}, f.starter.ids())

	rec, err := f.svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, rec.Status)
	assert.Equal(t, []string{"pizza", "tacos"}, rec.Queries)
}

func TestSubmitRejectsEmptyQueries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), []string{"", "  "}, "Austin")
	require.ErrorIs(t, err, job.ErrValidation)
	assert.Empty(t, f.starter.ids())
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Status("nope")
	require.ErrorIs(t, err, job.ErrNotFound)
	require.ErrorIs(t, f.svc.Cancel(context.Background(), "nope"), job.ErrNotFound)
	require.ErrorIs(t, f.svc.Clear(context.Background(), "nope"), job.ErrNotFound)
}

func TestCancelQueuedJobReleasesHandleAndMarksTerminating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"pizza"}, "")
	require.NoError(t, err)
	handle := &countingHandle{}
	f.resources.Register(sub.JobID, handle)

	require.NoError(t, f.svc.Cancel(context.Background(), sub.JobID))

	assert.True(t, f.flags.IsSet(sub.JobID))
	assert.EqualValues(t, 1, handle.releases.Load())
	assert.False(t, f.resources.Held(sub.JobID))
	rec, err := f.svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusTerminating, rec.Status)

	// Idempotent.
	require.NoError(t, f.svc.Cancel(context.Background(), sub.JobID))
	assert.EqualValues(t, 1, handle.releases.Load())
}

func TestCancelFinishedJobIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"pizza"}, "")
	require.NoError(t, err)
	finish(t, f.jobs, sub.JobID, job.StatusCompleted)

	require.NoError(t, f.svc.Cancel(context.Background(), sub.JobID))
	rec, err := f.svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Equal(t, 0, f.flags.Len())
}

func TestActivePrefersOldestActiveThenLastCreated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, ok := f.svc.Active()
	assert.False(t, ok)

	first, err := f.svc.Submit(context.Background(), []string{"a"}, "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.svc.Submit(context.Background(), []string{"b"}, "")
	require.NoError(t, err)

	rec, ok := f.svc.Active()
	require.True(t, ok)
	assert.Equal(t, first.JobID, rec.ID)

	finish(t, f.jobs, first.JobID, job.StatusCompleted)
	finish(t, f.jobs, second.JobID, job.StatusFailed)
	rec, ok = f.svc.Active()
	require.True(t, ok)
	assert.Equal(t, second.JobID, rec.ID, "falls back to the last created job")

	require.NoError(t, f.svc.Clear(context.Background(), second.JobID))
	_, ok = f.svc.Active()
	assert.False(t, ok)
}

func TestClearRefusesActiveJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"a"}, "")
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Clear(context.Background(), sub.JobID), job.ErrJobActive)
	rec, err := f.svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, rec.Status, "clear must not cancel")

	finish(t, f.jobs, sub.JobID, job.StatusCompleted)
	require.NoError(t, f.svc.Clear(context.Background(), sub.JobID))
	_, err = f.svc.Status(sub.JobID)
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestActiveOutputs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"a"}, "")
	require.NoError(t, err)
	_, err = f.jobs.Update(context.Background(), sub.JobID, func(r *job.Record) bool {
		r.Status = job.StatusProcessing
		r.CurrentQuery = "a"
		r.CurrentQueryIndex = 1
		r.CurrentOutputRef = "a 1.csv"
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a 1.csv": true}, f.svc.ActiveOutputs())
}

func TestCancelKeepsOutputActiveUntilResultRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Submit(context.Background(), []string{"pizza", "tacos"}, "Austin")
	require.NoError(t, err)
	_, err = f.jobs.Update(context.Background(), sub.JobID, func(r *job.Record) bool {
		r.Status = job.StatusProcessing
		r.CurrentQuery = "pizza"
		r.CurrentQueryIndex = 1
		r.CurrentOutputRef = "pizza Austin 1.csv"
		return true
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), sub.JobID))

	rec, err := f.svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusTerminating, rec.Status)
	assert.Empty(t, rec.CurrentQuery)
	assert.Zero(t, rec.CurrentQueryIndex)
	assert.Equal(t, "pizza Austin 1.csv", rec.CurrentOutputRef)
	assert.Equal(t, map[string]bool{"pizza Austin 1.csv": true}, f.svc.ActiveOutputs())

	_, err = f.jobs.Update(context.Background(), sub.JobID, func(r *job.Record) bool {
		r.Results = append(r.Results, job.Errored("pizza", "terminated before completion", time.Now()))
		r.CompletedQueries = len(r.Results)
		r.ClearCurrent()
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, f.svc.ActiveOutputs())
}

func TestShutdownReleasesEveryHandle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := &countingHandle{}, &countingHandle{}
	f.resources.Register("a", a)
	f.resources.Register("b", b)

	require.NoError(t, f.svc.Shutdown())
	assert.EqualValues(t, 1, a.releases.Load())
	assert.EqualValues(t, 1, b.releases.Load())
	assert.Equal(t, 0, f.resources.Len())
}

// TestCancelRunningJobEndToEnd drives a real dispatcher and worker with an
// extractor that blocks until its browser is torn down.
func TestCancelRunningJobEndToEnd(t *testing.T) {
	t.Parallel()

	jobs, err := registry.Open(context.Background(), memory.NewStateStore(), uuid.New(), system.New(), zap.NewNop())
	require.NoError(t, err)
	dir := t.TempDir()
	out, err := output.NewStore(output.Config{Dir: dir})
	require.NoError(t, err)
	flags := cancel.NewFlags()
	resources := resource.NewRegistry()
	ext := &blockingExtractor{running: make(chan struct{}, 1)}
	runner := worker.New(jobs, flags, resources, ext, out, nil, nil, system.New(), worker.Config{}, zap.NewNop())
	disp := dispatcher.New(context.Background(), runner, flags, 0, zap.NewNop())
	svc := New(jobs, flags, resources, disp, nil, system.New(), zap.NewNop())

	sub, err := svc.Submit(context.Background(), []string{"pizza", "tacos"}, "Austin")
	require.NoError(t, err)
	select {
	case <-ext.running:
	case <-time.After(2 * time.Second):
		t.Fatal("extractor never started")
	}

	start := time.Now()
	require.NoError(t, svc.Cancel(context.Background(), sub.JobID))
	disp.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)

	rec, err := svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusTerminated, rec.Status)
	assert.Equal(t, job.ErrMsgTerminated, rec.Error)
	require.NoError(t, rec.Check())
	require.Len(t, rec.Results, 1)
	assert.Equal(t, "terminated before completion, 1 records flushed to pizza Austin 1.csv", rec.Results[0].Error)
	assert.Empty(t, rec.CurrentOutputRef)
	assert.Equal(t, 0, resources.Len())
	assert.Equal(t, 0, flags.Len())
	assert.Equal(t, 1, ext.calls())

	data, err := os.ReadFile(filepath.Join(dir, "pizza Austin 1.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "header plus the flushed row")
	assert.Equal(t, strings.Join(job.PlaceColumns, ","), strings.TrimRight(lines[0], "\r"))
	assert.True(t, strings.HasPrefix(lines[1], "Slice House,"), lines[1])
	files, err := out.List(svc.ActiveOutputs())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, output.FileComplete, files[0].Status)
	assert.False(t, files[0].Empty)
}

func TestCancelDuringBrowserLaunchTerminatesPromptly(t *testing.T) {
	t.Parallel()

	jobs, err := registry.Open(context.Background(), memory.NewStateStore(), uuid.New(), system.New(), zap.NewNop())
	require.NoError(t, err)
	out, err := output.NewStore(output.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	flags := cancel.NewFlags()
	resources := resource.NewRegistry()
	launcher := &stalledLauncher{started: make(chan struct{}, 1), delay: 8 * time.Second}
	scraper := extract.New(launcher, extract.Config{LaunchTimeout: 30 * time.Second}, zap.NewNop())
	runner := worker.New(jobs, flags, resources, scraper, out, nil, nil, system.New(), worker.Config{}, zap.NewNop())
	disp := dispatcher.New(context.Background(), runner, flags, 0, zap.NewNop())
	svc := New(jobs, flags, resources, disp, nil, system.New(), zap.NewNop())

	sub, err := svc.Submit(context.Background(), []string{"pizza", "tacos"}, "Austin")
	require.NoError(t, err)
	select {
	case <-launcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("browser launch never started")
	}
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, svc.Cancel(context.Background(), sub.JobID))
	disp.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)

	rec, err := svc.Status(sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusTerminated, rec.Status)
	assert.Equal(t, job.ErrMsgTerminated, rec.Error)
	require.Len(t, rec.Results, 1)
	assert.Equal(t, "terminated before completion", rec.Results[0].Error)
	assert.EqualValues(t, 1, launcher.launches.Load())
}

func finish(t *testing.T, jobs *registry.Registry, jobID string, status job.Status) {
	t.Helper()
	_, err := jobs.Update(context.Background(), jobID, func(r *job.Record) bool {
		r.Status = job.StatusProcessing
		return true
	})
	require.NoError(t, err)
	_, err = jobs.Update(context.Background(), jobID, func(r *job.Record) bool {
		r.Status = status
		if status == job.StatusFailed {
			r.Error = "boom"
		}
		return true
	})
	require.NoError(t, err)
}

// --- fakes ---

type recordingStarter struct {
	mu      sync.Mutex
	started []string
}

func (s *recordingStarter) Start(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, jobID)
}

func (s *recordingStarter) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

type countingHandle struct {
	releases atomic.Int32
	closed   chan struct{}
	once     sync.Once
}

func (h *countingHandle) Release() error {
	h.releases.Add(1)
	h.once.Do(func() {
		if h.closed != nil {
			close(h.closed)
		}
	})
	return nil
}

type blockingExtractor struct {
	running chan struct{}
	n       atomic.Int32
}

func (e *blockingExtractor) Extract(ctx context.Context, req job.ExtractRequest) (int, error) {
	e.n.Add(1)
	h := &countingHandle{closed: make(chan struct{})}
	release := req.Resources.Register(req.JobID, h)
	defer func() { _ = release() }()
	if err := req.Output.Write(job.Place{Name: "Slice House"}); err != nil {
		return 0, err
	}
	e.running <- struct{}{}
	select {
	case <-h.closed:
		return 1, &job.ExtractionError{Query: req.Query, Err: context.Canceled}
	case <-ctx.Done():
		return 1, ctx.Err()
	}
}

func (e *blockingExtractor) calls() int {
	return int(e.n.Load())
}

// stalledLauncher never produces a browser before delay and gives up when
// its context ends.
type stalledLauncher struct {
	started  chan struct{}
	delay    time.Duration
	launches atomic.Int32
}

func (l *stalledLauncher) Launch(ctx context.Context) (extract.Page, error) {
	l.launches.Add(1)
	l.started <- struct{}{}
	select {
	case <-time.After(l.delay):
		return nil, errors.New("browser launch timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
