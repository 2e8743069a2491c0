package progress

import "context"

// Sink consumes batches of progress events. Consume may be called many
// times and must honour ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The orchestrator and workers depend
// on this rather than on Hub so tests can capture events directly.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
