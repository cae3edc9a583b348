package store

import (
	"context"
	"errors"
	"fmt"
	"scoring-backend/internal/core/types"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("request not found")
	ErrAlreadyExists     = errors.New("request already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StatusConflictError is returned by Transition when the record exists but is
// not in the expected status.
type StatusConflictError struct {
	RequestId uuid.UUID
	Expected  types.Status
	Actual    types.Status
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("request %s has status %s, expected %s", e.RequestId, e.Actual, e.Expected)
}

func IsStatusConflict(err error) bool {
	var cerr *StatusConflictError
	return errors.As(err, &cerr)
}

type Update struct {
	Output   *types.Output
	WorkerId string
}

type Store interface {
	// Create inserts a new record, failing with ErrAlreadyExists if the id is
	// already taken.
	Create(ctx context.Context, req types.Request) error

	Get(ctx context.Context, id uuid.UUID) (types.Request, error)

	// Transition atomically moves the record from status from to status to,
	// applying update. It is a compare-and-swap on status: if the record is not
	// in status from, nothing is written and a *StatusConflictError is returned.
	Transition(ctx context.Context, id uuid.UUID, from, to types.Status, update Update) (types.Request, error)

	// ListByStatus returns up to limit records in the given status whose last
	// update is older than updatedBefore, oldest first.
	ListByStatus(ctx context.Context, status types.Status, updatedBefore time.Time, limit int) ([]types.Request, error)

	Ping(ctx context.Context) error

	Close() error
}

func checkTransition(from, to types.Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
