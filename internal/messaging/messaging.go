package messaging

import (
	"context"
	"scoring-backend/internal/core/types"
	"time"

	"github.com/google/uuid"
)

const (
	ScoreQueue      = "score_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	// Redelivered reports whether the broker has handed this message out before.
	Redelivered() bool

	// Ack marks the task as fully processed.
	Ack() error

	// Nack returns the task to the queue so that it is delivered again.
	Nack() error

	// Reject drops the task without redelivery.
	Reject() error
}

type ScoreTaskPayload struct {
	RequestId  uuid.UUID        `json:"requestId"`
	Approach   types.Approach   `json:"approach"`
	Classifier types.Classifier `json:"classifier"`
	TrainSize  float64          `json:"trainSize"`
}

func NewScoreTaskPayload(d types.Descriptor) ScoreTaskPayload {
	return ScoreTaskPayload{
		RequestId:  d.RequestId,
		Approach:   d.Input.Approach,
		Classifier: d.Input.Classifier,
		TrainSize:  d.Input.TrainSize,
	}
}

func (p ScoreTaskPayload) Descriptor() types.Descriptor {
	return types.Descriptor{
		RequestId: p.RequestId,
		Input: types.TaskSpec{
			Approach:   p.Approach,
			Classifier: p.Classifier,
			TrainSize:  p.TrainSize,
		},
	}
}

type Publisher interface {
	PublishScoreTask(ctx context.Context, payload ScoreTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
