package messaging_test

import (
	"context"
	"encoding/json"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/messaging"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextTask(t *testing.T, r messaging.Receiver) messaging.Task {
	select {
	case task, ok := <-r.Tasks():
		require.True(t, ok, "queue closed")
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task")
		return nil
	}
}

func TestInMemoryQueuePublishAndReceive(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	payload := messaging.ScoreTaskPayload{
		RequestId:  uuid.New(),
		Approach:   types.SoloModel,
		Classifier: types.CatBoost,
		TrainSize:  0.7,
	}
	require.NoError(t, queue.PublishScoreTask(context.Background(), payload))

	task := nextTask(t, queue)
	assert.Equal(t, messaging.ScoreQueue, task.Type())
	assert.False(t, task.Redelivered())

	var got messaging.ScoreTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	assert.Equal(t, payload, got)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(task.Payload(), &wire))
	assert.Equal(t, payload.RequestId.String(), wire["requestId"])
	assert.Equal(t, "SoloModel", wire["approach"])
	assert.Equal(t, "CatBoost", wire["classifier"])
	assert.Equal(t, 0.7, wire["trainSize"])

	require.NoError(t, task.Ack())
}

func TestInMemoryQueueNackRedelivers(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	payload := messaging.ScoreTaskPayload{RequestId: uuid.New(), Approach: types.TwoModels, Classifier: types.RandomForest, TrainSize: 0.4}
	require.NoError(t, queue.PublishScoreTask(context.Background(), payload))

	first := nextTask(t, queue)
	require.NoError(t, first.Nack())
	// Settling twice has no further effect.
	require.NoError(t, first.Nack())

	second := nextTask(t, queue)
	assert.True(t, second.Redelivered())
	assert.Equal(t, first.Payload(), second.Payload())
	require.NoError(t, second.Ack())

	select {
	case task := <-queue.Tasks():
		t.Fatalf("unexpected extra delivery: %s", task.Payload())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInMemoryQueueRejectDrops(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	require.NoError(t, queue.PublishRaw(context.Background(), messaging.ScoreQueue, []byte("not json")))

	task := nextTask(t, queue)
	require.NoError(t, task.Reject())

	select {
	case task := <-queue.Tasks():
		t.Fatalf("unexpected redelivery: %s", task.Payload())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInMemoryQueueFullRespectsContext(t *testing.T) {
	queue := messaging.NewInMemoryQueueWithCapacity(1)
	defer queue.Close()

	payload := messaging.ScoreTaskPayload{RequestId: uuid.New(), Approach: types.SoloModel, Classifier: types.CatBoost, TrainSize: 0.5}
	require.NoError(t, queue.PublishScoreTask(context.Background(), payload))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := queue.PublishScoreTask(ctx, payload)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueueClose(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	queue.Close()
	queue.Close()

	_, ok := <-queue.Tasks()
	assert.False(t, ok)

	payload := messaging.ScoreTaskPayload{RequestId: uuid.New(), Approach: types.SoloModel, Classifier: types.CatBoost, TrainSize: 0.5}
	err := queue.PublishScoreTask(context.Background(), payload)
	assert.ErrorIs(t, err, messaging.ErrQueueClosed)
}

func TestScoreTaskPayloadDescriptor(t *testing.T) {
	d := types.Descriptor{
		RequestId: uuid.New(),
		Input:     types.TaskSpec{Approach: types.TwoModels, Classifier: types.CatBoost, TrainSize: 0.25},
	}
	assert.Equal(t, d, messaging.NewScoreTaskPayload(d).Descriptor())
}
