package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/models"
	"github.com/upb/llm-chat-gateway/repositories"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
)

const refreshEventColumns = `id, cycle_id, trigger, outcome, error_type, error_message,
		       snapshot_id, snapshot_version, started_at, finished_at`

// RefreshEventRepository implements the repositories.RefreshEventRepository interface
type RefreshEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRefreshEventRepository creates a new refresh journal repository
func NewRefreshEventRepository(db *DB, logger *zap.Logger) repositories.RefreshEventRepository {
	return &RefreshEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new journal entry
func (r *RefreshEventRepository) Insert(ctx context.Context, event *models.RefreshEvent) error {
	query := `
		INSERT INTO refresh_events (
			id, cycle_id, trigger, outcome, error_type, error_message,
			snapshot_id, snapshot_version, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.CycleID,
		event.Trigger,
		event.Outcome,
		event.ErrorType,
		event.ErrorMessage,
		event.SnapshotID,
		event.SnapshotVersion,
		event.StartedAt,
		event.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh event: %w", err)
	}

	r.logger.Debug("refresh event inserted", zap.String("id", event.ID.String()), zap.String("outcome", string(event.Outcome)))
	return nil
}

// ListRecent retrieves the newest entries first
func (r *RefreshEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.RefreshEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + refreshEventColumns + `
		FROM refresh_events
		ORDER BY finished_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh events: %w", err)
	}
	defer rows.Close()

	var events []*models.RefreshEvent
	for rows.Next() {
		event, err := scanRefreshEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh event rows: %w", err)
	}

	return events, nil
}

// GetByCycleID retrieves the entry recorded for a cycle
func (r *RefreshEventRepository) GetByCycleID(ctx context.Context, cycleID uuid.UUID) (*models.RefreshEvent, error) {
	query := `
		SELECT ` + refreshEventColumns + `
		FROM refresh_events
		WHERE cycle_id = $1
	`

	event, err := scanRefreshEvent(r.db.QueryRowContext(ctx, query, cycleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "refresh event not found", err).
				WithDetail("cycle_id", cycleID.String())
		}
		return nil, fmt.Errorf("failed to get refresh event: %w", err)
	}

	return event, nil
}

// DeleteBefore removes entries that finished before the cutoff
func (r *RefreshEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_events WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted refresh events: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRefreshEvent(row rowScanner) (*models.RefreshEvent, error) {
	event := &models.RefreshEvent{}
	err := row.Scan(
		&event.ID,
		&event.CycleID,
		&event.Trigger,
		&event.Outcome,
		&event.ErrorType,
		&event.ErrorMessage,
		&event.SnapshotID,
		&event.SnapshotVersion,
		&event.StartedAt,
		&event.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}
