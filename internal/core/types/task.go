package types

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidSpecification = errors.New("invalid task specification")

type Approach string

const (
	SoloModel Approach = "SoloModel"
	TwoModels Approach = "TwoModels"
)

type Classifier string

const (
	CatBoost     Classifier = "CatBoost"
	RandomForest Classifier = "RandomForest"
)

var approachAliases = map[string]Approach{
	"solomodel":  SoloModel,
	"solo model": SoloModel,
	"solo-model": SoloModel,
	"twomodels":  TwoModels,
	"two models": TwoModels,
	"two-model":  TwoModels,
	"two-models": TwoModels,
}

var classifierAliases = map[string]Classifier{
	"catboost":               CatBoost,
	"catboostclassifier":     CatBoost,
	"randomforest":           RandomForest,
	"randomforestclassifier": RandomForest,
	"random forest":          RandomForest,
}

// ParseApproach accepts the canonical names as well as the spellings older
// clients send ("Solo Model", "solo-model", ...).
func ParseApproach(s string) (Approach, error) {
	if a, ok := approachAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown approach '%s'", ErrInvalidSpecification, s)
}

func ParseClassifier(s string) (Classifier, error) {
	if c, ok := classifierAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown classifier '%s'", ErrInvalidSpecification, s)
}

type TaskSpec struct {
	Approach   Approach   `json:"approach"`
	Classifier Classifier `json:"classifier"`
	TrainSize  float64    `json:"trainSize"`
}

// NewTaskSpec parses the raw intake values into a validated, canonical spec.
func NewTaskSpec(approach, classifier string, trainSize float64) (TaskSpec, error) {
	var errs []error

	a, err := ParseApproach(approach)
	if err != nil {
		errs = append(errs, err)
	}
	c, err := ParseClassifier(classifier)
	if err != nil {
		errs = append(errs, err)
	}

	spec := TaskSpec{Approach: a, Classifier: c, TrainSize: trainSize}
	if err := validateTrainSize(trainSize); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return TaskSpec{}, errors.Join(errs...)
	}
	return spec, nil
}

func (s TaskSpec) Validate() error {
	var errs []error
	if s.Approach != SoloModel && s.Approach != TwoModels {
		errs = append(errs, fmt.Errorf("%w: unknown approach '%s'", ErrInvalidSpecification, s.Approach))
	}
	if s.Classifier != CatBoost && s.Classifier != RandomForest {
		errs = append(errs, fmt.Errorf("%w: unknown classifier '%s'", ErrInvalidSpecification, s.Classifier))
	}
	if err := validateTrainSize(s.TrainSize); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateTrainSize(trainSize float64) error {
	if math.IsNaN(trainSize) || trainSize <= 0 || trainSize >= 1 {
		return fmt.Errorf("%w: trainSize must be in the open interval (0, 1), got %v", ErrInvalidSpecification, trainSize)
	}
	return nil
}

// Descriptor is the work queue payload for a request. It only carries what
// can be rebuilt from the stored record, so a record can always be requeued.
type Descriptor struct {
	RequestId uuid.UUID
	Input     TaskSpec
}
