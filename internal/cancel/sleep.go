package cancel

import (
	"context"
	"time"
)

// Step is the longest stretch a Sleep goes without checking for
// cancellation.
const Step = 250 * time.Millisecond

// Sleep waits for d in Step slices and reports whether the full duration
// elapsed. It returns false as soon as cancelled reports true or ctx is
// done. A nil cancelled is never set.
func Sleep(ctx context.Context, d time.Duration, cancelled func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if (cancelled != nil && cancelled()) || ctx.Err() != nil {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		t := time.NewTimer(min(left, Step))
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// WithCheck returns a child of parent that is also cancelled once cancelled
// reports true. The check runs every Step until the returned CancelFunc is
// called or parent is done. A nil cancelled only follows parent.
func WithCheck(parent context.Context, cancelled func() bool) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(parent)
	if cancelled == nil {
		return ctx, stop
	}
	go func() {
		t := time.NewTicker(Step)
		defer t.Stop()
		for {
			if cancelled() {
				stop()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return ctx, stop
}
