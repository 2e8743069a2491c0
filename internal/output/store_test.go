package output_test

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/output"
)

func newStore(t *testing.T) *output.Store {
	t.Helper()
	s, err := output.NewStore(output.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestBaseName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		query, location, want string
	}{
		{"pizza & pasta", "Austin, TX", "pizza pasta Austin TX"},
		{"  coffee  ", "", "coffee"},
		{"", "Berlin", "Berlin"},
		{"!!!", "???", "results"},
		{"café", "Zürich", "café Zürich"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, output.BaseName(tc.query, tc.location), "%q/%q", tc.query, tc.location)
	}
}

func TestCreateNumbersAndWritesHeader(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w1, err := s.Create("pizza", "Austin")
	require.NoError(t, err)
	w2, err := s.Create("pizza", "Austin")
	require.NoError(t, err)
	assert.Equal(t, "pizza Austin 1.csv", w1.Ref())
	assert.Equal(t, "pizza Austin 2.csv", w2.Ref())

	require.NoError(t, w1.Write(job.Place{Name: "Joe's", Rating: "4.5", SearchLocation: "Austin"}))
	assert.Equal(t, 1, w1.Count())

	// Rows are visible before Close.
	rows := readCSV(t, filepath.Join(s.Dir(), w1.Ref()))
	require.Len(t, rows, 2)
	assert.Equal(t, job.PlaceColumns, rows[0])
	assert.Equal(t, "Joe's", rows[1][0])

	require.NoError(t, w1.Close())
	require.NoError(t, w1.Close())
	require.Error(t, w1.Write(job.Place{Name: "late"}))
	require.NoError(t, w2.Close())
}

func TestMarkEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	first, err := s.Create("tacos", "Dallas")
	require.NoError(t, err)
	require.NoError(t, first.Close())
	name, err := s.MarkEmpty(first.Ref())
	require.NoError(t, err)
	assert.Equal(t, "tacos Dallas (EMPTY).csv", name)
	assert.True(t, output.IsEmptyName(name))

	second, err := s.Create("tacos", "Dallas")
	require.NoError(t, err)
	require.NoError(t, second.Close())
	name, err = s.MarkEmpty(second.Ref())
	require.NoError(t, err)
	assert.Equal(t, "tacos Dallas (EMPTY) 1.csv", name)
	assert.True(t, output.IsEmptyName(name))

	_, err = os.Stat(filepath.Join(s.Dir(), second.Ref()))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
}

func TestQueryNamedEmptyIsNotTagged(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ref := writePlaces(t, s, "foo EMPTY", "Austin", 1)
	assert.Equal(t, "foo EMPTY Austin 1.csv", ref)
	assert.False(t, output.IsEmptyName(ref))
	assert.False(t, output.IsEmptyName("foo EMPTY 1.csv"))
	assert.False(t, output.IsEmptyName("foo EMPTY.csv"))

	bare := writePlaces(t, s, "foo", "EMPTY", 1)
	assert.Equal(t, "foo EMPTY 1.csv", bare)

	files, err := s.List(nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.False(t, f.Empty, f.Name)
	}

	var buf bytes.Buffer
	n, err := s.WriteMerged(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestPathRejectsTraversal(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	for _, name := range []string{"", "..", "../x.csv", "a/b.csv", `a\b.csv`, "notes.txt"} {
		_, err := s.Path(name)
		require.ErrorIs(t, err, output.ErrInvalidName, name)
	}
	p, err := s.Path("ok 1.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "ok 1.csv"), p)
}

func TestListDeleteAndActive(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	done := writePlaces(t, s, "bars", "Austin", 2)
	live := writePlaces(t, s, "bars", "Austin", 1)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600))

	active := map[string]bool{live: true}
	files, err := s.List(active)
	require.NoError(t, err)
	require.Len(t, files, 2)
	status := map[string]string{}
	for _, f := range files {
		status[f.Name] = f.Status
	}
	assert.Equal(t, output.FileComplete, status[done])
	assert.Equal(t, output.FileProcessing, status[live])

	n, err := s.DeleteAll(active)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.ErrorIs(t, s.Delete(done), output.ErrFileNotFound)
	require.NoError(t, s.Delete(live))
}

func TestWriteZip(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	var empty bytes.Buffer
	_, err := s.WriteZip(&empty, nil)
	require.ErrorIs(t, err, output.ErrNoFiles)

	a := writePlaces(t, s, "gyms", "Reno", 1)
	b := writePlaces(t, s, "gyms", "Reno", 3)

	var buf bytes.Buffer
	n, err := s.WriteZip(&buf, map[string]bool{b: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, a, zr.File[0].Name)
}

func TestWriteMergedSkipsEmptyAndActive(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	writePlaces(t, s, "spa", "Napa", 2)
	active := writePlaces(t, s, "spa", "Napa", 5)

	empty, err := s.Create("spa", "Napa")
	require.NoError(t, err)
	require.NoError(t, empty.Close())
	_, err = s.MarkEmpty(empty.Ref())
	require.NoError(t, err)

	// A legacy file without search_location still merges.
	legacy := "name,rating\nOld Spa,4.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "legacy 1.csv"), []byte(legacy), 0o600))

	var buf bytes.Buffer
	n, err := s.WriteMerged(&buf, map[string]bool{active: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, job.PlaceColumns, rows[0])
	var names []string
	for _, r := range rows[1:] {
		require.Len(t, r, len(job.PlaceColumns))
		names = append(names, r[0])
	}
	assert.Contains(t, names, "Old Spa")
}

func TestWriteMergedNothingToMerge(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	empty, err := s.Create("x", "y")
	require.NoError(t, err)
	require.NoError(t, empty.Close())
	_, err = s.MarkEmpty(empty.Ref())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = s.WriteMerged(&buf, nil)
	require.ErrorIs(t, err, output.ErrNoFiles)
	_, err = s.WriteXLSX(&buf, nil)
	require.ErrorIs(t, err, output.ErrNoFiles)
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	writePlaces(t, s, "books", "Boise", 2)

	var buf bytes.Buffer
	n, err := s.WriteXLSX(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	rows, err := f.GetRows(output.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "name", rows[0][0])
	assert.Equal(t, "place-0", rows[1][0])
}

// --- helpers ---

func writePlaces(t *testing.T, s *output.Store, query, location string, n int) string {
	t.Helper()
	w, err := s.Create(query, location)
	require.NoError(t, err)
	for i := range n {
		require.NoError(t, w.Write(job.Place{
			Name:           "place-" + string(rune('0'+i)),
			SearchLocation: location,
		}))
	}
	require.NoError(t, w.Close())
	return w.Ref()
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path) //nolint:gosec // test temp dir
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
