package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/progress"
)

// JobNotification is published once per job when it reaches a terminal
// status.
type JobNotification struct {
	JobID     string        `json:"job_id"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Runtime   time.Duration `json:"runtime_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// Attributes are copied onto the outgoing message for subscription filters.
func (n JobNotification) Attributes() map[string]string {
	return map[string]string{
		"event":  "job_done",
		"job_id": n.JobID,
		"status": n.Status,
	}
}

// PublisherSink forwards JOB_DONE events to a publisher topic.
type PublisherSink struct {
	publisher job.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink returns a sink publishing to topic.
func NewPublisherSink(publisher job.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes one notification per terminal event. A failed publish
// does not stop the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageJobDone {
			continue
		}
		msg := JobNotification{
			JobID:     evt.JobID,
			Status:    evt.Status,
			Error:     evt.Note,
			Runtime:   evt.Dur,
			Timestamp: evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish job %s: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("job notification published",
			zap.String("job_id", evt.JobID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
