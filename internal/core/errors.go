package core

import (
	"fmt"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/store"

	"github.com/google/uuid"
)

var (
	ErrInvalidSpecification = types.ErrInvalidSpecification
	ErrNotFound             = store.ErrNotFound
)

// DispatchError is returned by Submit when the record was written but its
// descriptor could not be handed to the queue. Recorded reports whether the
// record was moved to ERROR; if not, the requeue sweeper picks it up later.
type DispatchError struct {
	RequestId uuid.UUID
	Recorded  bool
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("delivery failure for request %s: %v", e.RequestId, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
