package core

import (
	"context"
	"fmt"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/store"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultStaleLimit = 100
	MaxStaleLimit     = 1000
)

type QueryService struct {
	store store.Store
}

func NewQueryService(store store.Store) *QueryService {
	return &QueryService{store: store}
}

// Query returns the current record for id, or an error wrapping ErrNotFound.
func (q *QueryService) Query(ctx context.Context, id uuid.UUID) (types.Request, error) {
	return q.store.Get(ctx, id)
}

// ListStale returns records that have been in status for longer than
// olderThan, oldest first.
func (q *QueryService) ListStale(ctx context.Context, status types.Status, olderThan time.Duration, limit int) ([]types.Request, error) {
	if limit <= 0 {
		limit = DefaultStaleLimit
	}
	limit = min(limit, MaxStaleLimit)

	reqs, err := q.store.ListByStatus(ctx, status, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing stale requests: %w", err)
	}
	return reqs, nil
}
