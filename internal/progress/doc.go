// Package progress carries job lifecycle events from the control plane and
// workers to pluggable sinks. Emitters never block: a Hub buffers events and
// flushes them in batches on a background goroutine.
package progress
