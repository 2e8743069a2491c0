package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Writer appends place rows to one CSV file. Every row is flushed before
// Write returns so a reader sees partial output during a run.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	csv    *csv.Writer
	name   string
	count  int
	closed bool
}

var _ job.OutputWriter = (*Writer)(nil)

func newWriter(f *os.File, name string) (*Writer, error) {
	w := &Writer{f: f, csv: csv.NewWriter(f), name: name}
	if err := w.writeRow(job.PlaceColumns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// Write appends one place.
func (w *Writer) Write(p job.Place) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("output %q is closed", w.name)
	}
	if err := w.writeRow(p.Row()); err != nil {
		return fmt.Errorf("append to %q: %w", w.name, err)
	}
	w.count++
	return nil
}

func (w *Writer) writeRow(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Ref is the file name inside the output directory.
func (w *Writer) Ref() string {
	return w.name
}

// Count is the number of data rows written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.csv.Flush()
	flushErr := w.csv.Error()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", w.name, err)
	}
	return flushErr
}
