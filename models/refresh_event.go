package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshOutcome is the result recorded for a refresh cycle.
type RefreshOutcome string

const (
	RefreshOutcomeSuccess RefreshOutcome = "success"
	RefreshOutcomeFailure RefreshOutcome = "failure"
	RefreshOutcomeSkipped RefreshOutcome = "skipped"
)

// IsValid checks if the outcome is valid
func (o RefreshOutcome) IsValid() bool {
	switch o {
	case RefreshOutcomeSuccess, RefreshOutcomeFailure, RefreshOutcomeSkipped:
		return true
	}
	return false
}

// RefreshEvent is one entry of the refresh journal. It never carries secret values.
type RefreshEvent struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	CycleID         uuid.UUID      `json:"cycle_id" db:"cycle_id"`
	Trigger         string         `json:"trigger" db:"trigger"`
	Outcome         RefreshOutcome `json:"outcome" db:"outcome"`
	ErrorType       *string        `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage    *string        `json:"error_message,omitempty" db:"error_message"`
	SnapshotID      *uuid.UUID     `json:"snapshot_id,omitempty" db:"snapshot_id"`
	SnapshotVersion *int64         `json:"snapshot_version,omitempty" db:"snapshot_version"`
	StartedAt       time.Time      `json:"started_at" db:"started_at"`
	FinishedAt      time.Time      `json:"finished_at" db:"finished_at"`
}

// TableName returns the table name for the RefreshEvent model
func (RefreshEvent) TableName() string {
	return "refresh_events"
}

// NewRefreshEvent creates a journal entry for a cycle
func NewRefreshEvent(cycleID uuid.UUID, trigger string, outcome RefreshOutcome, startedAt, finishedAt time.Time) *RefreshEvent {
	return &RefreshEvent{
		ID:         uuid.New(),
		CycleID:    cycleID,
		Trigger:    trigger,
		Outcome:    outcome,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// WithError records the failure of the cycle
func (e *RefreshEvent) WithError(errorType, message string) *RefreshEvent {
	e.ErrorType = &errorType
	e.ErrorMessage = &message
	return e
}

// WithSnapshot records the snapshot published by the cycle
func (e *RefreshEvent) WithSnapshot(id uuid.UUID, version uint64) *RefreshEvent {
	v := int64(version)
	e.SnapshotID = &id
	e.SnapshotVersion = &v
	return e
}

// Duration returns how long the cycle ran
func (e *RefreshEvent) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}
