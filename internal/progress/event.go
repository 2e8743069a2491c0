package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone an Event records.
type Stage string

// Supported progress stages.
const (
	StageJobSubmitted    Stage = "JOB_SUBMITTED"
	StageJobStart        Stage = "JOB_START"
	StageQueryStart      Stage = "QUERY_START"
	StageQueryDone       Stage = "QUERY_DONE"
	StageQueryError      Stage = "QUERY_ERROR"
	StageCancelRequested Stage = "CANCEL_REQUESTED"
	StageJobDone         Stage = "JOB_DONE"
)

// Event is one progress milestone for a job.
type Event struct {
	JobID string
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// Query and QueryIndex (1-based) scope query stages.
	Query      string
	QueryIndex int
	// Records is the number of records a query wrote.
	Records int
	// OutputRef names the query's output artifact.
	OutputRef string
	// Status is the terminal job status on JOB_DONE.
	Status string
	// Dur is the query or job wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobSubmitted, StageJobStart, StageCancelRequested:
	case StageQueryStart, StageQueryDone, StageQueryError:
		if e.Query == "" || e.QueryIndex < 1 {
			return fmt.Errorf("%s requires query and index", e.Stage)
		}
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Records < 0 {
		return errors.New("records must be >= 0")
	}
	return nil
}
