package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshEvent(t *testing.T) {
	cycleID := uuid.New()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(250 * time.Millisecond)

	event := NewRefreshEvent(cycleID, "schedule", RefreshOutcomeSuccess, started, finished)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, cycleID, event.CycleID)
	assert.Equal(t, "schedule", event.Trigger)
	assert.Equal(t, RefreshOutcomeSuccess, event.Outcome)
	assert.Equal(t, 250*time.Millisecond, event.Duration())
	assert.Nil(t, event.ErrorType)
	assert.Nil(t, event.SnapshotID)
}

func TestRefreshEvent_TableName(t *testing.T) {
	assert.Equal(t, "refresh_events", RefreshEvent{}.TableName())
}

func TestRefreshEvent_BuilderMethods(t *testing.T) {
	now := time.Now()
	snapID := uuid.New()

	success := NewRefreshEvent(uuid.New(), "startup", RefreshOutcomeSuccess, now, now).WithSnapshot(snapID, 7)
	require.NotNil(t, success.SnapshotID)
	require.NotNil(t, success.SnapshotVersion)
	assert.Equal(t, snapID, *success.SnapshotID)
	assert.Equal(t, int64(7), *success.SnapshotVersion)

	failure := NewRefreshEvent(uuid.New(), "schedule", RefreshOutcomeFailure, now, now).
		WithError("secret_unavailable", "secret unavailable")
	require.NotNil(t, failure.ErrorType)
	assert.Equal(t, "secret_unavailable", *failure.ErrorType)
	assert.Equal(t, "secret unavailable", *failure.ErrorMessage)
}

func TestRefreshEvent_JSONOmitsEmptyFields(t *testing.T) {
	event := NewRefreshEvent(uuid.New(), "schedule", RefreshOutcomeSkipped, time.Now(), time.Now())

	data, err := json.Marshal(event)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"outcome":"skipped"`)
	assert.NotContains(t, string(data), "error_type")
	assert.NotContains(t, string(data), "snapshot_id")
}

func TestRefreshOutcome_IsValid(t *testing.T) {
	tests := []struct {
		outcome RefreshOutcome
		valid   bool
	}{
		{RefreshOutcomeSuccess, true},
		{RefreshOutcomeFailure, true},
		{RefreshOutcomeSkipped, true},
		{RefreshOutcome("partial"), false},
		{RefreshOutcome(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.outcome.IsValid())
		})
	}
}
