package core

import (
	"context"
	"fmt"
	"log/slog"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/core/utils"
	"scoring-backend/internal/messaging"
	"scoring-backend/internal/store"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPublishAttempts   = 3
	DefaultPublishRetryDelay = 500 * time.Millisecond
	DefaultRequeueLimit      = 500
	maxConcurrentRequeues    = 8
)

type SubmissionOptions struct {
	PublishAttempts   int
	PublishRetryDelay time.Duration
}

type SubmissionService struct {
	store     store.Store
	publisher messaging.Publisher

	publishAttempts   int
	publishRetryDelay time.Duration
}

func NewSubmissionService(store store.Store, publisher messaging.Publisher, opts SubmissionOptions) *SubmissionService {
	if opts.PublishAttempts <= 0 {
		opts.PublishAttempts = DefaultPublishAttempts
	}
	if opts.PublishRetryDelay < 0 {
		opts.PublishRetryDelay = DefaultPublishRetryDelay
	}
	return &SubmissionService{
		store:             store,
		publisher:         publisher,
		publishAttempts:   opts.PublishAttempts,
		publishRetryDelay: opts.PublishRetryDelay,
	}
}

// Submit validates spec, stores a PENDING record for it and enqueues its
// descriptor. The record is committed before the publish is attempted, so a
// worker never receives an id the store does not know.
//
// A *DispatchError is returned together with the id when the record exists
// but could not be enqueued.
func (s *SubmissionService) Submit(ctx context.Context, spec types.TaskSpec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	req := types.Request{
		Id:        uuid.New(),
		Status:    types.StatusPending,
		Input:     spec,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, req); err != nil {
		slog.Error("error creating request", "request_id", req.Id, "error", err)
		return uuid.Nil, fmt.Errorf("error creating request: %w", err)
	}

	if err := s.publish(ctx, req.Descriptor()); err != nil {
		return req.Id, s.markDispatchFailure(ctx, req.Id, err)
	}

	slog.Info("submitted request", "request_id", req.Id, "approach", spec.Approach, "classifier", spec.Classifier, "train_size", spec.TrainSize)

	return req.Id, nil
}

func (s *SubmissionService) publish(ctx context.Context, d types.Descriptor) error {
	payload := messaging.NewScoreTaskPayload(d)

	var err error
	for attempt := 1; attempt <= s.publishAttempts; attempt++ {
		if err = s.publisher.PublishScoreTask(ctx, payload); err == nil {
			return nil
		}
		slog.Warn("error publishing score task", "request_id", d.RequestId, "attempt", attempt, "max_attempts", s.publishAttempts, "error", err)

		if attempt == s.publishAttempts {
			break
		}
		select {
		case <-time.After(s.publishRetryDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
	}
	return err
}

func (s *SubmissionService) markDispatchFailure(ctx context.Context, id uuid.UUID, cause error) error {
	// The caller may have gone away, the record must still leave PENDING.
	ctx = context.WithoutCancel(ctx)

	reason := fmt.Sprintf("delivery failure: %v", cause)
	_, err := s.store.Transition(ctx, id, types.StatusPending, types.StatusError, store.Update{Output: types.ErrorOutput(reason)})
	if err != nil {
		slog.Error("error recording delivery failure, request left for requeue", "request_id", id, "error", err)
		return &DispatchError{RequestId: id, Recorded: false, Err: cause}
	}

	slog.Error("request marked as failed after delivery failure", "request_id", id, "error", cause)
	return &DispatchError{RequestId: id, Recorded: true, Err: cause}
}

// RequeuePending republishes the descriptors of PENDING records that have not
// changed for olderThan. Records that are still queued get a second
// descriptor, which the claim guard in the worker turns into a no-op.
func (s *SubmissionService) RequeuePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRequeueLimit
	}

	pending, err := s.store.ListByStatus(ctx, types.StatusPending, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("error listing pending requests: %w", err)
	}

	publish := func(ctx context.Context, req types.Request) (struct{}, error) {
		return struct{}{}, s.publisher.PublishScoreTask(ctx, messaging.NewScoreTaskPayload(req.Descriptor()))
	}

	requeued := 0
	var lastErr error
	for result := range utils.RunInPool(ctx, pending, maxConcurrentRequeues, publish) {
		if result.Error != nil {
			slog.Error("error requeuing pending request", "request_id", result.Input.Id, "error", result.Error)
			lastErr = result.Error
			continue
		}
		requeued++
	}

	if requeued > 0 {
		slog.Info("requeued pending requests", "count", requeued, "older_than", olderThan)
	}

	if lastErr != nil {
		return requeued, fmt.Errorf("error requeuing %d of %d pending requests: %w", len(pending)-requeued, len(pending), lastErr)
	}
	return requeued, nil
}

// RunRequeueLoop calls RequeuePending every interval until ctx is done.
func (s *SubmissionService) RunRequeueLoop(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RequeuePending(ctx, olderThan, DefaultRequeueLimit); err != nil {
				slog.Error("requeue sweep failed", "error", err)
			}
		}
	}
}
