// Package train fits the demand regression model and computes the
// metrics the registry records alongside it.
package train

import (
	"errors"
	"fmt"
	"log"

	"github.com/indigoglass/nexus-forecast/internal/evaluate"
	"github.com/indigoglass/nexus-forecast/internal/features"
	"github.com/indigoglass/nexus-forecast/internal/gbm"
	"github.com/indigoglass/nexus-forecast/internal/models"
)

// ErrTooFewSamples rejects a training set below the configured minimum
// before any fitting begins.
var ErrTooFewSamples = errors.New("training set below minimum sample count")

// Trainer fits models with fixed hyperparameters. Construct once with
// the run's configuration; Train is safe to call repeatedly.
type Trainer struct {
	hp         models.Hyperparameters
	minSamples int
}

// New returns a Trainer with the given hyperparameters and minimum
// training-set size.
func New(hp models.Hyperparameters, minSamples int) *Trainer {
	return &Trainer{hp: hp, minSamples: minSamples}
}

// Result is a completed fit: the model, its metrics map, and the
// normalized feature-importance map keyed by feature name.
type Result struct {
	Model        *gbm.Model
	Metrics      map[string]float64
	Importances  map[string]float64
	FeatureNames []string
}

// Train fits on trainRows and evaluates on the held-out testRows.
// Deterministic for a fixed seed in the hyperparameters.
func (t *Trainer) Train(trainRows, testRows []models.FeatureRow) (*Result, error) {
	if len(trainRows) < t.minSamples {
		return nil, fmt.Errorf("train: %d samples, need %d: %w",
			len(trainRows), t.minSamples, ErrTooFewSamples)
	}

	xTrain, yTrain := split(trainRows)
	xTest, yTest := split(testRows)

	model, err := gbm.Fit(xTrain, yTrain, t.hp)
	if err != nil {
		return nil, fmt.Errorf("train: fit: %w", err)
	}

	predTrain := model.PredictBatch(xTrain)
	predTest := model.PredictBatch(xTest)

	metrics := map[string]float64{
		"train_mae":  evaluate.MAE(yTrain, predTrain),
		"train_rmse": evaluate.RMSE(yTrain, predTrain),
		"test_mae":   evaluate.MAE(yTest, predTest),
		"test_rmse":  evaluate.RMSE(yTest, predTest),
		"test_mape":  evaluate.MAPE(yTest, predTest),
	}

	names := features.Columns()
	scores := model.Importances()
	importances := make(map[string]float64, len(names))
	for i, name := range names {
		importances[name] = scores[i]
	}

	log.Printf("train: fit complete train_mae=%.3f test_mae=%.3f test_rmse=%.3f test_mape=%.3f",
		metrics["train_mae"], metrics["test_mae"], metrics["test_rmse"], metrics["test_mape"])

	return &Result{
		Model:        model,
		Metrics:      metrics,
		Importances:  importances,
		FeatureNames: names,
	}, nil
}

func split(rows []models.FeatureRow) ([][]float64, []float64) {
	xs := make([][]float64, len(rows))
	ys := make([]float64, len(rows))
	for i, r := range rows {
		xs[i] = r.Features
		ys[i] = r.Quantity
	}
	return xs, ys
}
