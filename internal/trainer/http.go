package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"scoring-backend/internal/core/types"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrTrainerUnavailable = errors.New("trainer service unavailable")

type trainRequest struct {
	Approach   types.Approach   `json:"approach"`
	Classifier types.Classifier `json:"classifier"`
	TrainSize  float64          `json:"trainSize"`
}

type trainResponse struct {
	Score *float64 `json:"score"`
}

type trainError struct {
	Error string `json:"error"`
}

// HTTPTrainer delegates training to a remote service exposing POST /train.
type HTTPTrainer struct {
	client *resty.Client
}

func NewHTTPTrainer(baseURL string, timeout time.Duration) *HTTPTrainer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPTrainer{client: client}
}

func (t *HTTPTrainer) Train(ctx context.Context, approach types.Approach, classifier types.Classifier, trainSize float64) (float64, error) {
	var result trainResponse
	var failure trainError

	res, err := t.client.R().
		SetContext(ctx).
		SetBody(trainRequest{Approach: approach, Classifier: classifier, TrainSize: trainSize}).
		SetResult(&result).
		SetError(&failure).
		Post("/train")
	if err != nil {
		slog.Error("unable to reach trainer service", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrTrainerUnavailable, err)
	}

	if res.IsError() {
		switch {
		case res.StatusCode() == http.StatusUnprocessableEntity || res.StatusCode() == http.StatusBadRequest:
			if failure.Error != "" {
				return 0, fmt.Errorf("%w: %s", ErrUnsupportedCombination, failure.Error)
			}
			return 0, unsupported(approach, classifier)
		case failure.Error != "":
			return 0, fmt.Errorf("trainer returned status %d: %s", res.StatusCode(), failure.Error)
		default:
			slog.Error("trainer returned error", "status_code", res.StatusCode(), "body", res.String())
			return 0, fmt.Errorf("trainer returned status %d", res.StatusCode())
		}
	}

	if result.Score == nil {
		return 0, fmt.Errorf("trainer response did not contain a score")
	}

	return *result.Score, nil
}
