// Package journal persists a record of every configuration refresh attempt.
// Writes happen on background workers so the refresher never waits on the database.
package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/models"
	"github.com/upb/llm-chat-gateway/repositories"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
)

// Service handles asynchronous journal writes.
type Service struct {
	repo        repositories.RefreshEventRepository
	logger      *zap.Logger
	eventChan   chan *models.RefreshEvent
	workerCount int
	bufferSize  int
	writeTimeout time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Bound on a single insert
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new journal Service
func NewService(repo repositories.RefreshEventRepository, logger *zap.Logger, config Config) *Service {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:         repo,
		logger:       logger.Named("journal"),
		eventChan:    make(chan *models.RefreshEvent, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("journal service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started journal service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending ones to be written.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("journal service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping journal service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("journal service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("journal service stop timeout after %v", timeout)
	}
}

// Append queues an event without blocking. A full buffer drops the event.
func (s *Service) Append(event *models.RefreshEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("journal service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("journal buffer full, dropping event",
			zap.String("cycle_id", event.CycleID.String()),
			zap.String("outcome", string(event.Outcome)))
		return fmt.Errorf("journal buffer full")
	}
}

// RecordCycle implements runtimeconfig.Recorder.
func (s *Service) RecordCycle(report runtimeconfig.CycleReport) {
	if err := s.Append(EventFromReport(report)); err != nil {
		s.logger.Debug("refresh event not journaled", zap.Error(err))
	}
}

// Recent returns the newest journal entries.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.RefreshEvent, error) {
	events, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to read refresh journal", err)
	}
	return events, nil
}

// Prune removes entries older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.repo.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, services.WrapInternal("failed to prune refresh journal", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned refresh journal", zap.Int64("deleted", deleted), zap.Duration("retention", retention))
	}
	return deleted, nil
}

// EventFromReport converts a cycle report to a journal entry. Only the error
// type and message are kept.
func EventFromReport(report runtimeconfig.CycleReport) *models.RefreshEvent {
	event := models.NewRefreshEvent(report.CycleID, string(report.Trigger), models.RefreshOutcome(report.Outcome), report.StartedAt, report.FinishedAt)
	if report.Err != nil {
		errType := string(services.GetErrorType(report.Err))
		if errType == "" {
			errType = string(services.ErrorTypeInternal)
		}
		event.WithError(errType, report.Err.Error())
	}
	if report.Snapshot != nil {
		event.WithSnapshot(report.Snapshot.ID(), report.Snapshot.Version())
	}
	return event
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for event := range s.eventChan {
		if err := s.write(event); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write refresh event",
				zap.Int("worker_id", id),
				zap.String("cycle_id", event.CycleID.String()),
				zap.Error(err))
			continue
		}
		s.written.Add(1)
	}
}

func (s *Service) write(event *models.RefreshEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.repo.Insert(ctx, event)
}

// GetStats returns statistics about the journal service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Running:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents journal service statistics
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	WorkerCount   int    `json:"worker_count"`
	Running       bool   `json:"running"`
	Written       uint64 `json:"written"`
	Dropped       uint64 `json:"dropped"`
	Failed        uint64 `json:"failed"`
}
