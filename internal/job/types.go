// Package job defines the shared domain types for scrape jobs: records, the
// status state machine, the error taxonomy, and the collaborator interfaces
// wired together by the orchestrator.
package job

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

// Supported job statuses.
const (
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusTerminating Status = "terminating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTerminated  Status = "terminated"
)

// Messages recorded on the record's error field for non-query failures.
const (
	ErrMsgRestarted  = "process restarted while active"
	ErrMsgTerminated = "job terminated by user"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// Active reports whether the job still owns a worker or is waiting for one.
func (s Status) Active() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusTerminating:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusQueued:      {StatusProcessing, StatusTerminating, StatusFailed},
	StatusProcessing:  {StatusCompleted, StatusFailed, StatusTerminating},
	StatusTerminating: {StatusTerminated},
}

// CanTransition reports whether from -> to is a legal move. Staying in the
// same non-terminal status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	return slices.Contains(transitions[from], to)
}

// Record is the authoritative description of one job.
type Record struct {
	ID                string        `json:"job_id"`
	Status            Status        `json:"status"`
	Queries           []string      `json:"queries"`
	Location          string        `json:"location"`
	Results           []QueryResult `json:"results"`
	TotalQueries      int           `json:"total_queries"`
	CompletedQueries  int           `json:"completed_queries"`
	CurrentQuery      string        `json:"current_query,omitempty"`
	CurrentQueryIndex int           `json:"current_query_index,omitempty"`
	CurrentOutputRef  string        `json:"current_output_ref,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (r Record) Clone() Record {
	cp := r
	cp.Queries = slices.Clone(r.Queries)
	cp.Results = slices.Clone(r.Results)
	if cp.Results == nil {
		cp.Results = []QueryResult{}
	}
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	return cp
}

// ClearCurrent drops the in-flight query markers.
func (r *Record) ClearCurrent() {
	r.StopQuery()
	r.CurrentOutputRef = ""
}

// StopQuery drops the current query but keeps CurrentOutputRef, which stays
// set until the worker has recorded the query's result.
func (r *Record) StopQuery() {
	r.CurrentQuery = ""
	r.CurrentQueryIndex = 0
}

// Check verifies the structural invariants of a record.
func (r Record) Check() error {
	if r.CompletedQueries < 0 || r.CompletedQueries > len(r.Queries) {
		return invariantf("completed_queries %d out of range [0,%d]", r.CompletedQueries, len(r.Queries))
	}
	if len(r.Results) != r.CompletedQueries {
		return invariantf("results length %d does not match completed_queries %d", len(r.Results), r.CompletedQueries)
	}
	for i, res := range r.Results {
		if res.Query != r.Queries[i] {
			return invariantf("result %d is for %q, expected %q", i, res.Query, r.Queries[i])
		}
		if err := res.Check(); err != nil {
			return err
		}
	}
	return nil
}

// QueryResult is the outcome of one query within a job.
type QueryResult struct {
	Query        string    `json:"query"`
	OutputRef    string    `json:"output_ref,omitempty"`
	TotalResults *int      `json:"total_results,omitempty"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Succeeded builds a successful result.
func Succeeded(query, ref string, count int, at time.Time) QueryResult {
	return QueryResult{Query: query, OutputRef: ref, TotalResults: &count, CompletedAt: at}
}

// Errored builds a failed result.
func Errored(query, msg string, at time.Time) QueryResult {
	return QueryResult{Query: query, Error: msg, CompletedAt: at}
}

// Check enforces that exactly one of (output ref + count) or error is set.
func (q QueryResult) Check() error {
	hasRef := q.OutputRef != ""
	hasCount := q.TotalResults != nil
	if q.Error != "" {
		if hasRef || hasCount {
			return invariantf("query result for %q carries both output and error", q.Query)
		}
		return nil
	}
	if !hasRef || !hasCount {
		return invariantf("query result for %q must carry output or error", q.Query)
	}
	return nil
}

// Place is one extracted business listing.
type Place struct {
	Name           string `json:"name"`
	Rating         string `json:"rating"`
	TotalReviews   string `json:"total_reviews"`
	Category       string `json:"category"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	Website        string `json:"website"`
	PriceRange     string `json:"price_range"`
	HoursStatus    string `json:"hours_status"`
	GoogleMapsURL  string `json:"google_maps_url"`
	SearchLocation string `json:"search_location"`
}

// PlaceColumns is the output column order.
var PlaceColumns = []string{
	"name", "rating", "total_reviews", "category", "address", "phone",
	"website", "price_range", "hours_status", "google_maps_url", "search_location",
}

// Row flattens the place in PlaceColumns order.
func (p Place) Row() []string {
	return []string{
		p.Name, p.Rating, p.TotalReviews, p.Category, p.Address, p.Phone,
		p.Website, p.PriceRange, p.HoursStatus, p.GoogleMapsURL, p.SearchLocation,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
