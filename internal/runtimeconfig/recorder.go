package runtimeconfig

import (
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a refresh cycle.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Outcome is the result of a refresh cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// CycleReport describes one refresh attempt.
type CycleReport struct {
	CycleID    uuid.UUID
	Trigger    Trigger
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	Snapshot   *Snapshot
}

// Recorder receives a report for every refresh attempt, including skipped ticks.
// Implementations must not block the refresher.
type Recorder interface {
	RecordCycle(report CycleReport)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(report CycleReport)

// RecordCycle implements Recorder.
func (f RecorderFunc) RecordCycle(report CycleReport) { f(report) }
