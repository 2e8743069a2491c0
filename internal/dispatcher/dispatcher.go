// Package dispatcher starts one worker goroutine per submitted job, with
// optional bounded admission.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/cancel"
)

// Runner executes a single job to completion.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// Dispatcher fans jobs out to worker goroutines.
type Dispatcher struct {
	base   context.Context //nolint:containedctx // lifetime of every worker
	runner Runner
	flags  *cancel.Flags
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a Dispatcher whose workers run under ctx. maxConcurrent <= 0
// means unbounded.
func New(ctx context.Context, runner Runner, flags *cancel.Flags, maxConcurrent int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		base:   ctx,
		runner: runner,
		flags:  flags,
		logger: logger,
	}
	if maxConcurrent > 0 {
		d.slots = make(chan struct{}, maxConcurrent)
	}
	return d
}

// Start launches the job's worker and returns immediately. With a bound,
// the worker waits for a free slot; a job cancelled while waiting runs
// straight away so it can reach terminated without holding a slot.
func (d *Dispatcher) Start(jobID string) {
	tok := d.flags.Token(jobID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.slots != nil {
			select {
			case d.slots <- struct{}{}:
				defer func() { <-d.slots }()
			case <-tok.Done():
				d.logger.Debug("job cancelled while waiting for a slot", zap.String("job_id", jobID))
			case <-d.base.Done():
			}
		}
		d.runner.Run(d.base, jobID)
	}()
}

// Wait blocks until every started worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
