package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/models"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
)

// MockRefreshEventRepository is a mock implementation of RefreshEventRepository
type MockRefreshEventRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.RefreshEvent
}

func (m *MockRefreshEventRepository) Insert(ctx context.Context, event *models.RefreshEvent) error {
	args := m.Called(ctx, event)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.inserted = append(m.inserted, event)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockRefreshEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.RefreshEvent, error) {
	args := m.Called(ctx, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.RefreshEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRefreshEventRepository) GetByCycleID(ctx context.Context, cycleID uuid.UUID) (*models.RefreshEvent, error) {
	args := m.Called(ctx, cycleID)
	if event := args.Get(0); event != nil {
		return event.(*models.RefreshEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRefreshEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefreshEventRepository) Inserted() []*models.RefreshEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RefreshEvent, len(m.inserted))
	copy(out, m.inserted)
	return out
}

func testSnapshot() *runtimeconfig.Snapshot {
	return runtimeconfig.NewSnapshot(runtimeconfig.ModelConfig{
		Provider:            runtimeconfig.ProviderAzureOpenAI,
		Model:               "gpt-4o",
		Temperature:         0.2,
		MaxCompletionTokens: 500,
		Endpoint:            "https://example.openai.azure.com",
		APIKey:              "sk-abc",
	}, 3, nil)
}

func TestService_StartStop(t *testing.T) {
	service := NewService(new(MockRefreshEventRepository), zap.NewNop(), DefaultConfig())

	require.NoError(t, service.Start())
	assert.Error(t, service.Start(), "second start should fail")

	require.NoError(t, service.Stop(time.Second))
	assert.Error(t, service.Stop(time.Second), "second stop should fail")
	assert.Error(t, service.Append(&models.RefreshEvent{}), "append after stop should fail")
}

func TestService_RecordCycle(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	snap := testSnapshot()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	success := runtimeconfig.CycleReport{
		CycleID:    uuid.New(),
		Trigger:    runtimeconfig.TriggerSchedule,
		Outcome:    runtimeconfig.OutcomeSuccess,
		StartedAt:  started,
		FinishedAt: started.Add(200 * time.Millisecond),
		Snapshot:   snap,
	}
	failure := runtimeconfig.CycleReport{
		CycleID:    uuid.New(),
		Trigger:    runtimeconfig.TriggerManual,
		Outcome:    runtimeconfig.OutcomeFailure,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Err:        services.ErrSecretUnavailable,
	}

	service.RecordCycle(success)
	service.RecordCycle(failure)
	require.NoError(t, service.Stop(5*time.Second))

	inserted := repo.Inserted()
	require.Len(t, inserted, 2)

	byCycle := map[uuid.UUID]*models.RefreshEvent{}
	for _, e := range inserted {
		byCycle[e.CycleID] = e
	}

	ok := byCycle[success.CycleID]
	require.NotNil(t, ok)
	assert.Equal(t, models.RefreshOutcomeSuccess, ok.Outcome)
	assert.Equal(t, "schedule", ok.Trigger)
	require.NotNil(t, ok.SnapshotID)
	assert.Equal(t, snap.ID(), *ok.SnapshotID)
	assert.Equal(t, int64(3), *ok.SnapshotVersion)
	assert.Nil(t, ok.ErrorType)

	failed := byCycle[failure.CycleID]
	require.NotNil(t, failed)
	assert.Equal(t, models.RefreshOutcomeFailure, failed.Outcome)
	require.NotNil(t, failed.ErrorType)
	assert.Equal(t, string(services.ErrorTypeSecretUnavailable), *failed.ErrorType)
	assert.Nil(t, failed.SnapshotID)

	stats := service.GetStats()
	assert.Equal(t, uint64(2), stats.Written)
	assert.False(t, stats.Running)
}

func TestEventFromReport_PlainError(t *testing.T) {
	now := time.Now()
	event := EventFromReport(runtimeconfig.CycleReport{
		CycleID:    uuid.New(),
		Trigger:    runtimeconfig.TriggerStartup,
		Outcome:    runtimeconfig.OutcomeFailure,
		StartedAt:  now,
		FinishedAt: now,
		Err:        errors.New("boom"),
	})

	require.NotNil(t, event.ErrorType)
	assert.Equal(t, string(services.ErrorTypeInternal), *event.ErrorType)
	assert.Equal(t, "boom", *event.ErrorMessage)
}

func TestService_InsertFailureCounted(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	now := time.Now()
	require.NoError(t, service.Append(models.NewRefreshEvent(uuid.New(), "manual", models.RefreshOutcomeSkipped, now, now)))
	require.NoError(t, service.Stop(5*time.Second))

	stats := service.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Written)
}

func TestService_BufferFull(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	release := make(chan struct{})
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	now := time.Now()
	accepted := 0
	for i := 0; i < 10; i++ {
		if err := service.Append(models.NewRefreshEvent(uuid.New(), "schedule", models.RefreshOutcomeSuccess, now, now)); err == nil {
			accepted++
		}
	}

	assert.Less(t, accepted, 10)
	assert.Greater(t, service.GetStats().Dropped, uint64(0))

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestService_WriteTimeout(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	deadlines := make(chan time.Duration, 1)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		deadline, ok := args.Get(0).(context.Context).Deadline()
		if !ok {
			deadlines <- 0
			return
		}
		deadlines <- time.Until(deadline)
	})

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1, WriteTimeout: 200 * time.Millisecond})
	require.NoError(t, service.Start())

	now := time.Now()
	require.NoError(t, service.Append(models.NewRefreshEvent(uuid.New(), "schedule", models.RefreshOutcomeSuccess, now, now)))

	remaining := <-deadlines
	assert.Greater(t, remaining, time.Duration(0), "insert must carry the write deadline")
	assert.LessOrEqual(t, remaining, 200*time.Millisecond)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestService_StopTimeout(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	release := make(chan struct{})
	defer close(release)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	now := time.Now()
	require.NoError(t, service.Append(models.NewRefreshEvent(uuid.New(), "schedule", models.RefreshOutcomeSuccess, now, now)))

	err := service.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestService_Recent(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	now := time.Now()
	events := []*models.RefreshEvent{models.NewRefreshEvent(uuid.New(), "schedule", models.RefreshOutcomeSuccess, now, now)}
	repo.On("ListRecent", mock.Anything, 20).Return(events, nil).Once()
	repo.On("ListRecent", mock.Anything, 5).Return(nil, errors.New("db down")).Once()

	service := NewService(repo, zap.NewNop(), DefaultConfig())

	got, err := service.Recent(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, events, got)

	_, err = service.Recent(context.Background(), 5)
	assert.True(t, services.IsInternalError(err))
	repo.AssertExpectations(t)
}

func TestService_Prune(t *testing.T) {
	repo := new(MockRefreshEventRepository)
	repo.On("DeleteBefore", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		return time.Since(cutoff) >= 24*time.Hour
	})).Return(int64(7), nil)

	service := NewService(repo, zap.NewNop(), DefaultConfig())

	deleted, err := service.Prune(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	repo.AssertExpectations(t)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 1000, config.BufferSize)
	assert.Equal(t, 2, config.WorkerCount)
	assert.Equal(t, 5*time.Second, config.WriteTimeout)

	service := NewService(new(MockRefreshEventRepository), nil, Config{})
	stats := service.GetStats()
	assert.Equal(t, 1000, stats.BufferSize)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.False(t, stats.Running)
}
