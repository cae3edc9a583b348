package trainer

import (
	"context"
	"errors"
	"fmt"
	"scoring-backend/internal/core/types"
)

var ErrUnsupportedCombination = errors.New("unsupported approach/classifier combination")

// Trainer fits a model for the given approach and classifier on a trainSize
// share of the dataset and returns its validation score. It may block for a
// long time and any error it returns is a training failure for the request.
type Trainer interface {
	Train(ctx context.Context, approach types.Approach, classifier types.Classifier, trainSize float64) (float64, error)
}

func unsupported(approach types.Approach, classifier types.Classifier) error {
	return fmt.Errorf("%w: classifier '%s' with approach '%s'", ErrUnsupportedCombination, classifier, approach)
}

// checkSupported rejects anything outside the two approaches and two
// classifiers the trainers implement.
func checkSupported(approach types.Approach, classifier types.Classifier) error {
	switch approach {
	case types.SoloModel, types.TwoModels:
	default:
		return unsupported(approach, classifier)
	}
	switch classifier {
	case types.CatBoost, types.RandomForest:
	default:
		return unsupported(approach, classifier)
	}
	return nil
}
