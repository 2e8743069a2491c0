package output

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// SheetName is the worksheet used by WriteXLSX.
const SheetName = "Places"

// WriteZip streams every finished CSV into a zip archive and returns the
// number of files included. Names in active are skipped.
func (s *Store) WriteZip(w io.Writer, active map[string]bool) (int, error) {
	names, err := s.names(active, false)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, ErrNoFiles
	}
	slices.Sort(names)
	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := addToZip(zw, filepath.Join(s.dir, name), name); err != nil {
			_ = zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish zip: %w", err)
	}
	return len(names), nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path) //nolint:gosec // path is built from a validated directory listing
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("zip entry %q: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip copy %q: %w", name, err)
	}
	return nil
}

// Rows reads every place row from finished, non-empty outputs. Columns are
// matched by header name so files written with a narrower header still
// merge; unknown columns are dropped. Unreadable files are skipped and
// reported in the returned error alongside the rows that did load.
func (s *Store) Rows(active map[string]bool) ([][]string, int, error) {
	names, err := s.names(active, true)
	if err != nil {
		return nil, 0, err
	}
	slices.Sort(names)
	var (
		rows  [][]string
		files int
		errs  []error
	)
	for _, name := range names {
		fileRows, err := readRows(filepath.Join(s.dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("read %q: %w", name, err))
			continue
		}
		rows = append(rows, fileRows...)
		files++
	}
	if files == 0 {
		return nil, 0, errors.Join(append(errs, ErrNoFiles)...)
	}
	return rows, files, errors.Join(errs...)
}

func readRows(path string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from a validated directory listing
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	index := make([]int, len(job.PlaceColumns))
	for i, col := range job.PlaceColumns {
		index[i] = slices.Index(header, col)
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		row := make([]string, len(index))
		for i, src := range index {
			if src >= 0 && src < len(rec) {
				row[i] = rec[src]
			}
		}
		rows = append(rows, row)
	}
}

// WriteMerged writes all finished, non-empty outputs as one CSV with a
// single header and returns the number of source files.
func (s *Store) WriteMerged(w io.Writer, active map[string]bool) (int, error) {
	rows, files, err := s.Rows(active)
	if files == 0 {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if werr := cw.Write(job.PlaceColumns); werr != nil {
		return 0, fmt.Errorf("write merged header: %w", werr)
	}
	if werr := cw.WriteAll(rows); werr != nil {
		return 0, fmt.Errorf("write merged rows: %w", werr)
	}
	return files, err
}

// WriteXLSX renders the same merged rows as a single worksheet.
func (s *Store) WriteXLSX(w io.Writer, active map[string]bool) (int, error) {
	rows, files, err := s.Rows(active)
	if files == 0 {
		return 0, err
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	idx, ierr := f.GetSheetIndex(SheetName)
	if ierr != nil || idx == -1 {
		if idx, ierr = f.NewSheet(SheetName); ierr != nil {
			return 0, fmt.Errorf("xlsx sheet: %w", ierr)
		}
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	if ierr := setRow(f, 1, job.PlaceColumns); ierr != nil {
		return 0, ierr
	}
	for i, row := range rows {
		if ierr := setRow(f, i+2, row); ierr != nil {
			return 0, ierr
		}
	}
	_ = f.SetColWidth(SheetName, "A", "A", 32)
	_ = f.SetColWidth(SheetName, "E", "E", 40)
	_ = f.SetColWidth(SheetName, "G", "G", 32)

	buf, ierr := f.WriteToBuffer()
	if ierr != nil {
		return 0, fmt.Errorf("xlsx write: %w", ierr)
	}
	if _, ierr := buf.WriteTo(w); ierr != nil {
		return 0, fmt.Errorf("xlsx copy: %w", ierr)
	}
	return files, err
}

func setRow(f *excelize.File, row int, values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("xlsx cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return fmt.Errorf("xlsx set %s: %w", cell, err)
		}
	}
	return nil
}
