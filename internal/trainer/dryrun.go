package trainer

import (
	"context"
	"scoring-backend/internal/core/types"
	"time"
)

type combination struct {
	approach   types.Approach
	classifier types.Classifier
}

var baseScores = map[combination]float64{
	{types.SoloModel, types.CatBoost}:     0.74,
	{types.SoloModel, types.RandomForest}: 0.69,
	{types.TwoModels, types.CatBoost}:     0.77,
	{types.TwoModels, types.RandomForest}: 0.71,
}

// DryRunTrainer returns a deterministic score without touching any data. It
// backs local mode and tests.
type DryRunTrainer struct {
	Delay time.Duration
}

func NewDryRunTrainer(delay time.Duration) *DryRunTrainer {
	return &DryRunTrainer{Delay: delay}
}

func (t *DryRunTrainer) Train(ctx context.Context, approach types.Approach, classifier types.Classifier, trainSize float64) (float64, error) {
	if err := checkSupported(approach, classifier); err != nil {
		return 0, err
	}

	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	// More training data scores slightly better, up to a point.
	base := baseScores[combination{approach, classifier}]
	return base + 0.1*trainSize*(1-trainSize), nil
}
