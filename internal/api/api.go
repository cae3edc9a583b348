package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"scoring-backend/internal/core"
	"scoring-backend/internal/core/types"
	"scoring-backend/pkg/api"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultStaleStatus    = types.StatusProcessing
	defaultStaleOlderThan = 15 * time.Minute
	healthCheckTimeout    = 5 * time.Second
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type BackendService struct {
	submitter *core.SubmissionService
	query     *core.QueryService
	health    HealthChecker
}

func NewBackendService(submitter *core.SubmissionService, query *core.QueryService, health HealthChecker) *BackendService {
	return &BackendService{submitter: submitter, query: query, health: health}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Post("/score", RestHandler(s.SubmitScore))
	r.Get("/score/result/{request_id}", RestHandler(s.GetScoreResult))
	r.Get("/score/stale", RestHandler(s.ListStale))
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		return nil, CodedErrorf(http.StatusServiceUnavailable, "state store unreachable")
	}
	return map[string]string{"status": "ok"}, nil
}

func (s *BackendService) SubmitScore(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ScoreRequest](r)
	if err != nil {
		return nil, err
	}

	if req.TrainSize == nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "%v: trainSize is required", types.ErrInvalidSpecification)
	}

	spec, err := types.NewTaskSpec(req.Approach, req.Classifier, *req.TrainSize)
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	id, err := s.submitter.Submit(r.Context(), spec)
	if err != nil {
		var dispatchErr *core.DispatchError
		switch {
		case errors.As(err, &dispatchErr):
			// The record exists and either carries the delivery failure or will
			// be requeued, the caller learns the outcome by polling.
			slog.Warn("request accepted without delivery", "request_id", id, "recorded", dispatchErr.Recorded, "error", err)
		case errors.Is(err, core.ErrInvalidSpecification):
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		default:
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to create request")
		}
	}

	return api.ScoreResponse{RequestId: id}, nil
}

func (s *BackendService) GetScoreResult(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "request_id")
	if err != nil {
		// A malformed id cannot name an existing request.
		return nil, CodedErrorf(http.StatusNotFound, "request not found")
	}

	req, err := s.query.Query(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "request not found")
		}
		slog.Error("error getting request", "request_id", id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving request record")
	}

	return convertRequest(req), nil
}

func (s *BackendService) ListStale(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.StaleRequestsParams](r)
	if err != nil {
		return nil, err
	}

	status := defaultStaleStatus
	if params.Status != "" {
		var ok bool
		if status, ok = types.ParseStatus(params.Status); !ok {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid status '%s'", params.Status)
		}
	}

	olderThan := defaultStaleOlderThan
	if params.OlderThan != "" {
		olderThan, err = time.ParseDuration(params.OlderThan)
		if err != nil || olderThan < 0 {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid older_than '%s', expected a non-negative duration such as 15m", params.OlderThan)
		}
	}

	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid limit %d", params.Limit)
	}

	reqs, err := s.query.ListStale(r.Context(), status, olderThan, params.Limit)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing stale requests")
	}

	return api.StaleRequestsResponse{Requests: convertRequests(reqs)}, nil
}
