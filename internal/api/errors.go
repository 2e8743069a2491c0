package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/output"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrValidation), errors.Is(err, output.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrNotFound), errors.Is(err, output.ErrFileNotFound), errors.Is(err, output.ErrNoFiles):
		return http.StatusNotFound
	case errors.Is(err, job.ErrJobActive):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, status, "internal server error")
		return
	}
	s.writeError(w, status, err.Error())
}
