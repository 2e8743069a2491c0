package job

import (
	"context"
	"io"
	"time"
)

// StateStore is the durable mirror of the registry. It is read once at
// startup and written on every registry mutation.
type StateStore interface {
	LoadJobs(ctx context.Context) ([]Record, error)
	SaveJob(ctx context.Context, rec Record) error
	DeleteJob(ctx context.Context, jobID string) error
	// LastJobID returns "" when no pointer has been stored.
	LastJobID(ctx context.Context) (string, error)
	// SetLastJobID stores the pointer; "" clears it.
	SetLastJobID(ctx context.Context, jobID string) error
	Close() error
}

// CancelCheck reports whether cancellation was requested. It must be cheap
// and safe to call from any goroutine.
type CancelCheck func() bool

// ResourceHandle is the exclusive external resource held while a query runs.
type ResourceHandle interface {
	Release() error
}

// ResourceRegistrar records handles so they can be force-released. The
// returned func deregisters and releases the handle; calling it after a
// forced release is a no-op.
type ResourceRegistrar interface {
	Register(jobID string, h ResourceHandle) (release func() error)
}

// RecordWriter appends one extracted record and flushes it immediately.
type RecordWriter interface {
	Write(p Place) error
}

// OutputWriter is an open per-query output artifact.
type OutputWriter interface {
	RecordWriter
	Ref() string
	Count() int
	Close() error
}

// ResultSink creates per-query outputs.
type ResultSink interface {
	Create(query, location string) (OutputWriter, error)
	// MarkEmpty renames a zero-record output and returns its new ref.
	MarkEmpty(ref string) (string, error)
	// Path resolves a ref to a readable location.
	Path(ref string) (string, error)
}

// ExtractRequest carries everything an extractor needs for one query.
type ExtractRequest struct {
	JobID     string
	Query     string
	Location  string
	Output    RecordWriter
	Cancelled CancelCheck
	Resources ResourceRegistrar
}

// Extractor performs one query. It acquires and registers its own resource
// handle, polls Cancelled at every checkpoint, and returns the number of
// records written to Output.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (int, error)
}

// BlobStore persists finished artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher sends job notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job ids.
type IDGenerator interface {
	NewID() (string, error)
}
