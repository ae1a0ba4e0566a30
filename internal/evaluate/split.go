// Package evaluate provides the leakage-free evaluation protocol for
// demand models: the chronological holdout split, walk-forward
// cross-validation, and the error metrics both report.
package evaluate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// ErrInsufficientData indicates too few samples to form the requested
// partitions. The pipeline aborts the run without registering anything.
var ErrInsufficientData = errors.New("insufficient data")

// SplitHoldout partitions rows chronologically: everything on or before
// max(date) - testWindowDays trains, everything after it tests.
func SplitHoldout(rows []models.FeatureRow, testWindowDays int) (train, test []models.FeatureRow, err error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("holdout split: no rows: %w", ErrInsufficientData)
	}

	sorted := make([]models.FeatureRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	cutoff := sorted[len(sorted)-1].Date.AddDate(0, 0, -testWindowDays)
	for _, r := range sorted {
		if r.Date.After(cutoff) {
			test = append(test, r)
		} else {
			train = append(train, r)
		}
	}

	if len(train) == 0 || len(test) == 0 {
		return nil, nil, fmt.Errorf("holdout split: train=%d test=%d rows: %w",
			len(train), len(test), ErrInsufficientData)
	}
	return train, test, nil
}

func labels(rows []models.FeatureRow) []float64 {
	ys := make([]float64, len(rows))
	for i, r := range rows {
		ys[i] = r.Quantity
	}
	return ys
}

func matrix(rows []models.FeatureRow) [][]float64 {
	xs := make([][]float64, len(rows))
	for i, r := range rows {
		xs[i] = r.Features
	}
	return xs
}
