package api

import (
	"time"

	"github.com/google/uuid"
)

type ScoreRequest struct {
	Approach   string   `json:"approach"`
	Classifier string   `json:"classifier"`
	TrainSize  *float64 `json:"trainSize"`
}

type ScoreResponse struct {
	RequestId uuid.UUID `json:"requestId"`
}

type TaskSpec struct {
	Approach   string  `json:"approach"`
	Classifier string  `json:"classifier"`
	TrainSize  float64 `json:"trainSize"`
}

type ScoreOutput struct {
	Score *float64 `json:"score,omitempty"`
	Error string   `json:"error,omitempty"`
}

type ScoreResult struct {
	RequestId uuid.UUID    `json:"requestId"`
	Status    string       `json:"status"`
	Input     TaskSpec     `json:"input"`
	Output    *ScoreOutput `json:"output,omitempty"`
	WorkerId  string       `json:"workerId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type StaleRequestsParams struct {
	Status    string `schema:"status"`
	OlderThan string `schema:"older_than"`
	Limit     int    `schema:"limit"`
}

type StaleRequestsResponse struct {
	Requests []ScoreResult `json:"requests"`
}
