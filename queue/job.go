// Package queue implements the persistent, priority-aware job broker
// behind the calculation pipeline: a Redis-backed FIFO with priorities,
// exponential-backoff retry, delayed jobs and crash-resilient
// resumption.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority is the job queue's three-tier priority scale; higher drains
// first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Kind identifies which worker handler processes a job's payload.
type Kind string

const (
	KindLocationRange Kind = "location-range"
	KindMonthlyRange  Kind = "monthly-range"
	KindDaily         Kind = "daily"
)

// State is a job's lifecycle stage.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// LocationRangePayload is the location-range job body: recompute every
// civil year in [YearFrom, YearTo] for one Location.
type LocationRangePayload struct {
	LocationID int64 `json:"location_id"`
	YearFrom   int   `json:"year_from"`
	YearTo     int   `json:"year_to"`
}

// MonthlyRangePayload scopes a recompute to one civil month.
type MonthlyRangePayload struct {
	LocationID int64 `json:"location_id"`
	Year       int   `json:"year"`
	Month      int   `json:"month"`
}

// DailyPayload scopes a recompute to one civil date.
type DailyPayload struct {
	LocationID int64     `json:"location_id"`
	Date       time.Time `json:"date"`
}

// Job is one persisted unit of work.
type Job struct {
	ID             string
	IdempotencyKey string
	Kind           Kind
	Payload        json.RawMessage
	Priority       Priority
	NotBefore      time.Time
	Attempt        int
	MaxAttempts    int
	State          State
	LastError      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// LocationID extracts the location_id every job payload carries,
// regardless of kind, so generic queue operations (e.g. cancellation by
// location) don't need a kind-specific switch.
func (j Job) LocationID() (int64, bool) {
	var carrier struct {
		LocationID int64 `json:"location_id"`
	}
	if err := json.Unmarshal(j.Payload, &carrier); err != nil {
		return 0, false
	}
	return carrier.LocationID, true
}

// NewLocationRangeJob builds a location-range Job with a stable
// idempotency key so repeated enqueues for the same location/year-span
// collapse to one waiting/delayed entry.
func NewLocationRangeJob(locationID int64, yearFrom, yearTo int, priority Priority) (Job, error) {
	payload, err := json.Marshal(LocationRangePayload{LocationID: locationID, YearFrom: yearFrom, YearTo: yearTo})
	if err != nil {
		return Job{}, err
	}
	key := fmt.Sprintf("location-range-%d-%d-%d", locationID, yearFrom, yearTo)
	return newJob(KindLocationRange, payload, priority, key)
}

// NewMonthlyRangeJob builds a monthly-range Job.
func NewMonthlyRangeJob(locationID int64, year, month int, priority Priority) (Job, error) {
	payload, err := json.Marshal(MonthlyRangePayload{LocationID: locationID, Year: year, Month: month})
	if err != nil {
		return Job{}, err
	}
	key := fmt.Sprintf("monthly-range-%d-%d-%d", locationID, year, month)
	return newJob(KindMonthlyRange, payload, priority, key)
}

// NewDailyJob builds a daily Job.
func NewDailyJob(locationID int64, date time.Time, priority Priority) (Job, error) {
	payload, err := json.Marshal(DailyPayload{LocationID: locationID, Date: date})
	if err != nil {
		return Job{}, err
	}
	key := fmt.Sprintf("daily-%d-%s", locationID, date.Format("2006-01-02"))
	return newJob(KindDaily, payload, priority, key)
}

func newJob(kind Kind, payload json.RawMessage, priority Priority, key string) (Job, error) {
	return Job{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		Kind:           kind,
		Payload:        payload,
		Priority:       priority,
		NotBefore:      time.Now(),
		MaxAttempts:    3,
		State:          StateWaiting,
		CreatedAt:      time.Now(),
	}, nil
}

