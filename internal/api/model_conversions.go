package api

import (
	"scoring-backend/internal/core/types"
	"scoring-backend/pkg/api"
)

func convertRequest(r types.Request) api.ScoreResult {
	result := api.ScoreResult{
		RequestId: r.Id,
		Status:    string(r.Status),
		Input: api.TaskSpec{
			Approach:   string(r.Input.Approach),
			Classifier: string(r.Input.Classifier),
			TrainSize:  r.Input.TrainSize,
		},
		WorkerId:  r.WorkerId,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	// Output is only reported once the request has finished.
	if r.Status.Terminal() && r.Output != nil {
		result.Output = &api.ScoreOutput{Score: r.Output.Score, Error: r.Output.Error}
	}
	return result
}

func convertRequests(rs []types.Request) []api.ScoreResult {
	results := make([]api.ScoreResult, 0, len(rs))
	for _, r := range rs {
		results = append(results, convertRequest(r))
	}
	return results
}
