package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/output"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeZip  = "application/zip"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.List(s.jobs.ActiveOutputs())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, err := s.files.Path(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := os.Open(path) //nolint:gosec // validated by the output store
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = output.ErrFileNotFound
		}
		s.fail(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeCSV)
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if s.jobs.ActiveOutputs()[name] {
		s.writeError(w, http.StatusConflict, "file is being written by a running job")
		return
	}
	if err := s.files.Delete(name); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("output deleted", zap.String("filename", name))
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
}

func (s *Server) deleteAllFiles(w http.ResponseWriter, r *http.Request) {
	n, err := s.files.DeleteAll(s.jobs.ActiveOutputs())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("outputs deleted", zap.Int("count", n))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Deleted %d CSV files", n),
		"deleted": n,
	})
}

func (s *Server) downloadZip(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, s.files.WriteZip, contentTypeZip, "all_results_"+s.timestamp()+".zip")
}

func (s *Server) downloadMergedCSV(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, s.files.WriteMerged, contentTypeCSV, "merged_results_"+s.timestamp()+".csv")
}

func (s *Server) downloadXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, s.files.WriteXLSX, contentTypeXLSX, "merged_results_"+s.timestamp()+".xlsx")
}

// export renders into memory first so a missing-data error can still be
// answered with a clean 404.
func (s *Server) export(
	w http.ResponseWriter,
	r *http.Request,
	write func(io.Writer, map[string]bool) (int, error),
	contentType, filename string,
) {
	var buf bytes.Buffer
	n, err := write(&buf, s.jobs.ActiveOutputs())
	if n == 0 {
		if err == nil {
			err = output.ErrNoFiles
		}
		s.fail(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("export skipped unreadable files", zap.String("filename", filename), zap.Error(err))
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", attachment(filename))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("export write failed", zap.Error(err))
	}
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
