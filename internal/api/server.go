package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/config"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/orchestrator"
	"github.com/JakeFAU/places-scraper/internal/output"
)

// Jobs is the control plane the handlers drive.
type Jobs interface {
	Submit(ctx context.Context, queries []string, location string) (orchestrator.Submission, error)
	Status(jobID string) (job.Record, error)
	Cancel(ctx context.Context, jobID string) error
	Active() (job.Record, bool)
	Clear(ctx context.Context, jobID string) error
	ActiveOutputs() map[string]bool
}

// Files manages the CSV outputs on disk.
type Files interface {
	List(active map[string]bool) ([]output.FileInfo, error)
	Path(name string) (string, error)
	Delete(name string) error
	DeleteAll(active map[string]bool) (int, error)
	WriteZip(w io.Writer, active map[string]bool) (int, error)
	WriteMerged(w io.Writer, active map[string]bool) (int, error)
	WriteXLSX(w io.Writer, active map[string]bool) (int, error)
}

// Server wires HTTP handlers to the orchestrator and output store.
type Server struct {
	router chi.Router
	jobs   Jobs
	files  Files
	clock  job.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs Jobs, files Files, clock job.Clock, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   jobs,
		files:  files,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/healthz", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Group(func(r chi.Router) {
			if cfg.Server.RequestTimeout > 0 {
				r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
			}
			r.Post("/scrape", s.submitJob)
			r.Get("/status/{job_id}", s.getJobStatus)
			r.Post("/terminate/{job_id}", s.terminateJob)
			r.Get("/active-job", s.getActiveJob)
			r.Delete("/clear-status/{job_id}", s.clearJob)
			r.Get("/files", s.listFiles)
			r.Delete("/delete/{filename}", s.deleteFile)
			r.Delete("/delete-all-csv", s.deleteAllFiles)
		})
		// Downloads stream files and may outlive the request timeout.
		r.Get("/download/{filename}", s.downloadFile)
		r.Get("/download-all", s.downloadZip)
		r.Get("/download-all-csv", s.downloadMergedCSV)
		r.Get("/download-all-xlsx", s.downloadXLSX)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) timestamp() string {
	now := time.Now()
	if s.clock != nil {
		now = s.clock.Now()
	}
	return now.Format("20060102_150405")
}
