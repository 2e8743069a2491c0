package cancel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepCompletes(t *testing.T) {
	t.Parallel()
	start := time.Now()
	assert.True(t, Sleep(context.Background(), 30*time.Millisecond, nil))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSleepStopsOnCancelWithinOneStep(t *testing.T) {
	t.Parallel()
	var flag atomic.Bool
	time.AfterFunc(50*time.Millisecond, func() { flag.Store(true) })

	start := time.Now()
	assert.False(t, Sleep(context.Background(), 10*time.Second, flag.Load))
	assert.Less(t, time.Since(start), 50*time.Millisecond+Step+100*time.Millisecond)
}

func TestSleepWithToken(t *testing.T) {
	t.Parallel()
	flags := NewFlags()
	tok := flags.Token("job-1")
	time.AfterFunc(20*time.Millisecond, func() { flags.Set("job-1") })
	assert.False(t, Sleep(context.Background(), 5*time.Second, tok.Cancelled))
}

func TestSleepAlreadyCancelled(t *testing.T) {
	t.Parallel()
	assert.False(t, Sleep(context.Background(), time.Second, func() bool { return true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Second, nil))
}

func TestWithCheckCancelsOnFlag(t *testing.T) {
	t.Parallel()
	var flag atomic.Bool
	time.AfterFunc(50*time.Millisecond, func() { flag.Store(true) })

	ctx, stop := WithCheck(context.Background(), flag.Load)
	defer stop()
	start := time.Now()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after the flag was set")
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond+Step+100*time.Millisecond)
}

func TestWithCheckFollowsParent(t *testing.T) {
	t.Parallel()
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := WithCheck(parent, func() bool { return false })
	defer stop()
	assert.NoError(t, ctx.Err())

	cancelParent()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWithCheckNilCheck(t *testing.T) {
	t.Parallel()
	ctx, stop := WithCheck(context.Background(), nil)
	assert.NoError(t, ctx.Err())
	stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
