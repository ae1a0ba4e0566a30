package evaluate

import (
	"fmt"
	"log"
	"sort"

	"github.com/indigoglass/nexus-forecast/internal/gbm"
	"github.com/indigoglass/nexus-forecast/internal/models"
)

// FoldScore is the error of one walk-forward validation fold.
type FoldScore struct {
	Fold      int
	TrainRows int
	ValRows   int
	MAE       float64
	RMSE      float64
}

// CVResult aggregates fold scores across a walk-forward run.
type CVResult struct {
	Folds    []FoldScore
	MAEMean  float64
	MAEStd   float64
	RMSEMean float64
	RMSEStd  float64
}

// Metrics returns the aggregate scores under their registry metric keys.
func (r CVResult) Metrics() map[string]float64 {
	return map[string]float64{
		"cv_mae_mean":  r.MAEMean,
		"cv_mae_std":   r.MAEStd,
		"cv_rmse_mean": r.RMSEMean,
		"cv_rmse_std":  r.RMSEStd,
	}
}

// CrossValidate runs expanding-window walk-forward validation: the
// chronologically sorted rows are cut into k+1 contiguous chunks, and
// each of the last k chunks is validated with a model trained on all
// rows strictly before it. A fold never trains on its own or later
// dates.
func CrossValidate(rows []models.FeatureRow, k int, hp models.Hyperparameters) (CVResult, error) {
	if k < 2 {
		return CVResult{}, fmt.Errorf("cross-validation requires at least 2 folds, got %d", k)
	}
	if len(rows) < k+1 {
		return CVResult{}, fmt.Errorf("cross-validation: %d rows for %d folds: %w",
			len(rows), k, ErrInsufficientData)
	}

	sorted := make([]models.FeatureRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	n := len(sorted)
	foldSize := n / (k + 1)
	if foldSize == 0 {
		return CVResult{}, fmt.Errorf("cross-validation: fold size 0 for %d rows: %w", n, ErrInsufficientData)
	}

	var result CVResult
	var maes, rmses []float64

	for fold := 0; fold < k; fold++ {
		valStart := (fold + 1) * foldSize
		valEnd := valStart + foldSize
		if fold == k-1 {
			valEnd = n
		}

		trainRows := sorted[:valStart]
		valRows := sorted[valStart:valEnd]

		model, err := gbm.Fit(matrix(trainRows), labels(trainRows), hp)
		if err != nil {
			return CVResult{}, fmt.Errorf("fold %d fit: %w", fold, err)
		}

		preds := model.PredictBatch(matrix(valRows))
		actual := labels(valRows)

		score := FoldScore{
			Fold:      fold,
			TrainRows: len(trainRows),
			ValRows:   len(valRows),
			MAE:       MAE(actual, preds),
			RMSE:      RMSE(actual, preds),
		}
		result.Folds = append(result.Folds, score)
		maes = append(maes, score.MAE)
		rmses = append(rmses, score.RMSE)

		log.Printf("evaluate: fold %d train=%d val=%d mae=%.3f rmse=%.3f",
			fold, score.TrainRows, score.ValRows, score.MAE, score.RMSE)
	}

	result.MAEMean = mean(maes)
	result.MAEStd = std(maes)
	result.RMSEMean = mean(rmses)
	result.RMSEStd = std(rmses)
	return result, nil
}
