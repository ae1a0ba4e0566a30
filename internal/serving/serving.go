// Package serving resolves the assigned production model for a
// (product, location) pair and scores it over future dates. Scoring a
// model version against the same inputs always yields the same rows,
// so callers may cache results freely.
package serving

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/artifact"
	"github.com/indigoglass/nexus-forecast/internal/features"
	"github.com/indigoglass/nexus-forecast/internal/gbm"
	"github.com/indigoglass/nexus-forecast/internal/metrics"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

const (
	// historyDays is how much observed history is loaded ahead of the
	// scoring window to seed lag and rolling features.
	historyDays = 120

	// intervalZ is the normal quantile for the ~90% prediction
	// interval built from the model's held-out RMSE.
	intervalZ = 1.645
)

type Adapter struct {
	store     *store.Store
	artifacts *artifact.Store
	calendar  features.CalendarFunc
}

func New(st *store.Store, artifacts *artifact.Store, calendar features.CalendarFunc) *Adapter {
	if calendar == nil {
		calendar = features.USCalendar
	}
	return &Adapter{store: st, artifacts: artifacts, calendar: calendar}
}

// GetForecast returns forecast rows for the pair over [start, end].
// A pair with no model assignment yields an empty result, not an
// error. Rows are persisted as they are scored, keyed by
// (date, product, location, model_version), so repeat calls are no-ops
// against storage.
func (a *Adapter) GetForecast(productID, locationID string, start, end time.Time) ([]models.ForecastRow, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("get forecast: end %s before start %s",
			models.DateKey(end), models.DateKey(start))
	}

	assignment, err := a.store.GetAssignment(productID, locationID)
	if err != nil {
		return nil, fmt.Errorf("get forecast: lookup assignment: %w", err)
	}
	if assignment == nil {
		metrics.ForecastRequests.WithLabelValues("unassigned").Inc()
		log.Printf("serving: no assignment for %s/%s, empty forecast", productID, locationID)
		return []models.ForecastRow{}, nil
	}

	model, err := a.store.GetModelByID(assignment.ModelID)
	if err != nil {
		return nil, fmt.Errorf("get forecast: assigned model %d: %w", assignment.ModelID, err)
	}

	rows, err := a.score(model, productID, locationID, start, end)
	if err != nil {
		return nil, err
	}

	metrics.ForecastRequests.WithLabelValues("served").Inc()
	return rows, nil
}

// score runs the model over the window. Each day's lag and rolling
// features come from the observed series extended with the model's own
// prior predictions, so only data available as of scoring time feeds
// any feature.
func (a *Adapter) score(model *models.TrainedModel, productID, locationID string, start, end time.Time) ([]models.ForecastRow, error) {
	blob, err := a.artifacts.Get(model.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("score: load artifact: %w", err)
	}
	learner, err := gbm.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	reorder, err := alignment(model.FeatureNames)
	if err != nil {
		return nil, fmt.Errorf("score: model %s/%s: %w", model.ModelName, model.Version, err)
	}

	history, err := a.store.GetGroupObservations(productID, locationID,
		start.AddDate(0, 0, -historyDays), start.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("score: load history: %w", err)
	}

	series := make([]float64, 0, len(history))
	for _, o := range history {
		series = append(series, o.Quantity)
	}

	cal := a.calendar(start, end)
	halfWidth := intervalZ * model.Metrics["test_rmse"]

	var rows []models.ForecastRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		vec, err := features.Vector(series, d, cal)
		if err != nil {
			metrics.ForecastRequests.WithLabelValues("insufficient_history").Inc()
			log.Printf("serving: %s/%s at %s: %v", productID, locationID, models.DateKey(d), err)
			return []models.ForecastRow{}, nil
		}

		aligned := make([]float64, len(reorder))
		for i, src := range reorder {
			aligned[i] = vec[src]
		}

		pred := learner.Predict(aligned)
		if pred < 0 {
			pred = 0
		}

		row := models.ForecastRow{
			Date:             d,
			ProductID:        productID,
			LocationID:       locationID,
			ForecastQuantity: pred,
			IntervalLow:      math.Max(0, pred-halfWidth),
			IntervalHigh:     pred + halfWidth,
			ModelVersion:     model.Version,
		}
		if err := a.store.InsertForecast(row); err != nil {
			return nil, fmt.Errorf("score: persist row: %w", err)
		}
		rows = append(rows, row)
		metrics.ForecastRowsScored.Inc()

		series = append(series, pred)
	}

	return rows, nil
}

// alignment maps the model's persisted feature order onto the canonical
// engineered vector. Models must have been trained on a subset of the
// canonical columns.
func alignment(featureNames []string) ([]int, error) {
	if len(featureNames) == 0 {
		return nil, fmt.Errorf("model has no feature names")
	}
	canonical := make(map[string]int)
	for i, name := range features.Columns() {
		canonical[name] = i
	}
	reorder := make([]int, len(featureNames))
	for i, name := range featureNames {
		src, ok := canonical[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		reorder[i] = src
	}
	return reorder, nil
}
