package types

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return st, true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransitionTo reports whether next is a legal successor of s.
// PENDING may also go straight to ERROR when its descriptor could not be
// delivered to the queue.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusError
	case StatusProcessing:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

type Output struct {
	Score *float64 `json:"score,omitempty"`
	Error string   `json:"error,omitempty"`
}

func ScoreOutput(score float64) *Output {
	return &Output{Score: &score}
}

func ErrorOutput(reason string) *Output {
	return &Output{Error: reason}
}

type Request struct {
	Id       uuid.UUID
	Status   Status
	Input    TaskSpec
	Output   *Output
	WorkerId string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Request) Descriptor() Descriptor {
	return Descriptor{RequestId: r.Id, Input: r.Input}
}
