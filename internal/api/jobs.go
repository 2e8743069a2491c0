package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type scrapeRequest struct {
	Queries  []string `json:"queries"`
	Location string   `json:"location"`
}

type scrapeResponse struct {
	JobID        string `json:"job_id"`
	Message      string `json:"message"`
	TotalQueries int    `json:"total_queries"`
}

type jobMessage struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.jobs.Submit(r.Context(), req.Queries, req.Location)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, scrapeResponse{
		JobID:        sub.JobID,
		Message:      "Scraping started",
		TotalQueries: sub.TotalQueries,
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobs.Status(chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) terminateJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobMessage{Message: "Job termination requested", JobID: jobID})
}

// getActiveJob answers with JSON null when there is nothing to show.
func (s *Server) getActiveJob(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.jobs.Active()
	if !ok {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) clearJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Clear(r.Context(), jobID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobMessage{Message: "Job status cleared", JobID: jobID})
}
