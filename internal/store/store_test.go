package store_test

import (
	"context"
	"errors"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/store"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(updatedAt time.Time) types.Request {
	return types.Request{
		Id:        uuid.New(),
		Status:    types.StatusPending,
		Input:     types.TaskSpec{Approach: types.SoloModel, Classifier: types.CatBoost, TrainSize: 0.2},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

// runStoreTests exercises the behaviour every Store implementation must share.
func runStoreTests(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("CreateGet", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		got, err := s.Get(ctx, req.Id)
		require.NoError(t, err)
		assert.Equal(t, req.Id, got.Id)
		assert.Equal(t, types.StatusPending, got.Status)
		assert.Equal(t, req.Input, got.Input)
		assert.Nil(t, got.Output)
		assert.Empty(t, got.WorkerId)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		err := s.Create(ctx, req)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TransitionNotFound", func(t *testing.T) {
		_, err := s.Transition(ctx, uuid.New(), types.StatusPending, types.StatusProcessing, store.Update{})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("FullLifecycle", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		got, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusProcessing, store.Update{WorkerId: "worker-a"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusProcessing, got.Status)
		assert.Equal(t, "worker-a", got.WorkerId)
		assert.Nil(t, got.Output)

		got, err = s.Transition(ctx, req.Id, types.StatusProcessing, types.StatusDone, store.Update{Output: types.ScoreOutput(0.8731)})
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status)
		require.NotNil(t, got.Output)
		require.NotNil(t, got.Output.Score)
		assert.InDelta(t, 0.8731, *got.Output.Score, 1e-12)
		assert.Equal(t, "worker-a", got.WorkerId)

		loaded, err := s.Get(ctx, req.Id)
		require.NoError(t, err)
		assert.Equal(t, got.Status, loaded.Status)
		assert.Equal(t, got.Output, loaded.Output)
	})

	t.Run("ErrorOutput", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		_, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusError, store.Update{Output: types.ErrorOutput("delivery failure: broker down")})
		require.NoError(t, err)

		got, err := s.Get(ctx, req.Id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusError, got.Status)
		require.NotNil(t, got.Output)
		assert.Nil(t, got.Output.Score)
		assert.Equal(t, "delivery failure: broker down", got.Output.Error)
	})

	t.Run("ConflictLeavesRecordUnchanged", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		_, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusProcessing, store.Update{WorkerId: "first"})
		require.NoError(t, err)

		current, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusProcessing, store.Update{WorkerId: "second"})
		require.Error(t, err)
		assert.True(t, store.IsStatusConflict(err))

		var conflict *store.StatusConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, types.StatusPending, conflict.Expected)
		assert.Equal(t, types.StatusProcessing, conflict.Actual)

		assert.Equal(t, types.StatusProcessing, current.Status)
		assert.Equal(t, "first", current.WorkerId)
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		_, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusProcessing, store.Update{})
		require.NoError(t, err)
		_, err = s.Transition(ctx, req.Id, types.StatusProcessing, types.StatusDone, store.Update{Output: types.ScoreOutput(0.5)})
		require.NoError(t, err)

		// A late writer still holding PROCESSING cannot overwrite the result.
		_, err = s.Transition(ctx, req.Id, types.StatusProcessing, types.StatusError, store.Update{Output: types.ErrorOutput("late")})
		assert.True(t, store.IsStatusConflict(err))

		_, err = s.Transition(ctx, req.Id, types.StatusDone, types.StatusError, store.Update{})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		got, err := s.Get(ctx, req.Id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status)
		require.NotNil(t, got.Output.Score)
		assert.Equal(t, 0.5, *got.Output.Score)
	})

	t.Run("ConcurrentClaimHasOneWinner", func(t *testing.T) {
		req := newPending(time.Now().UTC())
		require.NoError(t, s.Create(ctx, req))

		const claimers = 8
		var wg sync.WaitGroup
		results := make(chan error, claimers)
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Transition(ctx, req.Id, types.StatusPending, types.StatusProcessing, store.Update{WorkerId: uuid.NewString()})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins, conflicts := 0, 0
		for err := range results {
			switch {
			case err == nil:
				wins++
			case store.IsStatusConflict(err):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, claimers-1, conflicts)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		now := time.Now().UTC()
		old1 := newPending(now.Add(-3 * time.Hour))
		old2 := newPending(now.Add(-2 * time.Hour))
		recent := newPending(now.Add(-time.Minute))
		for _, r := range []types.Request{old2, recent, old1} {
			require.NoError(t, s.Create(ctx, r))
		}

		cutoff := now.Add(-time.Hour)
		stale, err := s.ListByStatus(ctx, types.StatusPending, cutoff, 100)
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, r := range stale {
			assert.Equal(t, types.StatusPending, r.Status)
			assert.True(t, r.UpdatedAt.Before(cutoff))
			if r.Id == old1.Id || r.Id == old2.Id {
				ids = append(ids, r.Id)
			}
			assert.NotEqual(t, recent.Id, r.Id)
		}
		assert.Equal(t, []uuid.UUID{old1.Id, old2.Id}, ids)

		limited, err := s.ListByStatus(ctx, types.StatusPending, cutoff, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		// Moving a record out of PENDING removes it from the listing.
		_, err = s.Transition(ctx, old1.Id, types.StatusPending, types.StatusProcessing, store.Update{})
		require.NoError(t, err)

		stale, err = s.ListByStatus(ctx, types.StatusPending, cutoff, 100)
		require.NoError(t, err)
		for _, r := range stale {
			assert.NotEqual(t, old1.Id, r.Id)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
