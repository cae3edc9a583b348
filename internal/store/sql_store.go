package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/database"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, req types.Request) error {
	row := database.NewRequest(req)

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		slog.Error("error creating request record", "request_id", req.Id, "error", result.Error)
		return fmt.Errorf("error creating request record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, req.Id)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (types.Request, error) {
	req, err := getRequest(s.db.WithContext(ctx), id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("error getting request record", "request_id", id, "error", err)
	}
	return req, err
}

func getRequest(db *gorm.DB, id uuid.UUID) (types.Request, error) {
	var row database.Request
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return types.Request{}, fmt.Errorf("error getting request record: %w", err)
	}
	return row.ToRequest(), nil
}

func (s *SQLStore) Transition(ctx context.Context, id uuid.UUID, from, to types.Status, update Update) (types.Request, error) {
	if err := checkTransition(from, to); err != nil {
		return types.Request{}, err
	}

	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if update.WorkerId != "" {
		updates["worker_id"] = sql.NullString{String: update.WorkerId, Valid: true}
	}
	if update.Output != nil {
		if update.Output.Score != nil {
			updates["score"] = sql.NullFloat64{Float64: *update.Output.Score, Valid: true}
		}
		if update.Output.Error != "" {
			updates["error_message"] = sql.NullString{String: update.Output.Error, Valid: true}
		}
	}

	var current types.Request
	var conflict error

	// The status predicate makes the update a single conditional write, two
	// callers racing on the same transition cannot both see RowsAffected == 1.
	// The read-back shares the transaction, so an error after the update rolls
	// it back and the caller never sees a failed swap that actually committed.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&database.Request{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("error updating request status: %w", result.Error)
		}

		var err error
		current, err = getRequest(tx, id)
		if err != nil {
			return err
		}

		if result.RowsAffected == 0 {
			conflict = &StatusConflictError{RequestId: id, Expected: from, Actual: current.Status}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("error updating request status", "request_id", id, "from", from, "to", to, "error", err)
		}
		return types.Request{}, err
	}

	return current, conflict
}

func (s *SQLStore) ListByStatus(ctx context.Context, status types.Status, updatedBefore time.Time, limit int) ([]types.Request, error) {
	query := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(status), updatedBefore.UTC()).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []database.Request
	if err := query.Find(&rows).Error; err != nil {
		slog.Error("error listing requests by status", "status", status, "error", err)
		return nil, fmt.Errorf("error listing requests by status: %w", err)
	}

	requests := make([]types.Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, row.ToRequest())
	}
	return requests, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error getting database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error getting database handle: %w", err)
	}
	return sqlDB.Close()
}
