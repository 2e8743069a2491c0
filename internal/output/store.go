// Package output owns the per-query CSV artifacts: naming, flush-on-write
// appends, empty tagging, and the listing and bulk export helpers served
// by the API.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/JakeFAU/places-scraper/internal/job"
)

var (
	// ErrFileNotFound is returned for unknown output names.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidName is returned for names that escape the output directory.
	ErrInvalidName = errors.New("invalid file name")
	// ErrNoFiles is returned by bulk exports with nothing to include.
	ErrNoFiles = errors.New("no files available")
)

var (
	countedName = regexp.MustCompile(`^(.*) (\d+)\.csv$`)
	emptyName   = regexp.MustCompile(` \(EMPTY\)( \d+)?\.csv$`)
)

// emptyTag marks zero-record outputs. BaseName never emits parentheses, so
// no query or location can produce it.
const emptyTag = " (EMPTY)"

const maxNameAttempts = 100000

// Config selects the output directory.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// Store creates and manages CSV outputs in one directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the directory when missing.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Store{dir: cfg.Dir}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// BaseName turns a query and location into a readable file stem: every
// non-alphanumeric rune becomes a space and runs of spaces collapse.
func BaseName(query, location string) string {
	parts := make([]string, 0, 2)
	for _, raw := range []string{query, location} {
		if cleaned := clean(raw); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	if len(parts) == 0 {
		return "results"
	}
	return strings.Join(parts, " ")
}

func clean(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// IsEmptyName reports whether name carries the zero-record tag.
func IsEmptyName(name string) bool {
	return emptyName.MatchString(name)
}

// Create picks "<base> N.csv" with the first free N, writes the header and
// returns the open writer. The name is reserved before any record exists.
func (s *Store) Create(query, location string) (job.OutputWriter, error) {
	base := BaseName(query, location)
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := 1; n <= maxNameAttempts; n++ {
		name := fmt.Sprintf("%s %d.csv", base, n)
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create output %q: %w", name, err)
		}
		w, err := newWriter(f, name)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return nil, err
		}
		return w, nil
	}
	return nil, fmt.Errorf("no free output name for %q", base)
}

// MarkEmpty renames a zero-record output to "<base> (EMPTY).csv", or
// "<base> (EMPTY) N.csv" when that is taken. The file is never deleted.
func (s *Store) MarkEmpty(ref string) (string, error) {
	src, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(ref, ".csv")
	if m := countedName.FindStringSubmatch(ref); m != nil {
		base = m[1]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := base + emptyTag + ".csv"
	for n := 1; n <= maxNameAttempts; n++ {
		if _, err := os.Stat(filepath.Join(s.dir, candidate)); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(src, filepath.Join(s.dir, candidate)); err != nil {
				return ref, fmt.Errorf("rename empty output: %w", err)
			}
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%s %d.csv", base, emptyTag, n)
	}
	return ref, fmt.Errorf("no free empty name for %q", ref)
}

// Path validates name and resolves it inside the output directory.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || !strings.HasSuffix(name, ".csv") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// FileInfo describes one output on disk.
type FileInfo struct {
	Name     string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Status   string    `json:"status"`
	Empty    bool      `json:"empty"`
}

// File statuses reported by List.
const (
	FileProcessing = "processing"
	FileComplete   = "complete"
)

// List returns every CSV output, newest first. Names in active are
// reported as processing.
func (s *Store) List(active map[string]bool) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		status := FileComplete
		if active[e.Name()] {
			status = FileProcessing
		}
		out = append(out, FileInfo{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
			Status:   status,
			Empty:    IsEmptyName(e.Name()),
		})
	}
	slices.SortFunc(out, func(a, b FileInfo) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Delete removes one output.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileNotFound
		}
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

// DeleteAll removes every output not in active and returns how many went.
func (s *Store) DeleteAll(active map[string]bool) (int, error) {
	names, err := s.names(active, false)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %q: %w", name, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// names lists finished CSV names in directory order, optionally skipping
// empty-tagged ones.
func (s *Store) names(active map[string]bool, skipEmpty bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") || active[name] {
			continue
		}
		if skipEmpty && IsEmptyName(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
