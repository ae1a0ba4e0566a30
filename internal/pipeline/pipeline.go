// Package pipeline orchestrates one end-to-end training run: load
// observations, engineer features, evaluate, fit, persist the
// artifact, and register the model as staged. Any failure aborts the
// run before registration, so a partial artifact is never registered.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/artifact"
	"github.com/indigoglass/nexus-forecast/internal/evaluate"
	"github.com/indigoglass/nexus-forecast/internal/features"
	"github.com/indigoglass/nexus-forecast/internal/gbm"
	"github.com/indigoglass/nexus-forecast/internal/metrics"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/registry"
	"github.com/indigoglass/nexus-forecast/internal/store"
	"github.com/indigoglass/nexus-forecast/internal/train"
)

// Config is the pipeline's explicit, immutable configuration, built
// once at startup and passed in at construction.
type Config struct {
	ModelName      string
	TestWindowDays int
	CVFolds        int
	MinSamples     int
	Hyperparams    models.Hyperparameters
}

// RunResult summarizes a completed training run.
type RunResult struct {
	ModelID     int64
	Version     string
	ArtifactRef string
	Metrics     map[string]float64
	TrainRows   int
	TestRows    int
}

type Runner struct {
	store     *store.Store
	artifacts *artifact.Store
	registry  *registry.Registry
	calendar  features.CalendarFunc
	cfg       Config
}

func NewRunner(st *store.Store, artifacts *artifact.Store, reg *registry.Registry, calendar features.CalendarFunc, cfg Config) *Runner {
	if calendar == nil {
		calendar = features.USCalendar
	}
	return &Runner{store: st, artifacts: artifacts, registry: reg, calendar: calendar, cfg: cfg}
}

// Run executes one training run, versioned off now. Returns
// evaluate.ErrInsufficientData or train.ErrTooFewSamples (wrapped)
// when the data cannot support the configured protocol.
func (r *Runner) Run(now time.Time) (*RunResult, error) {
	began := time.Now()
	result, err := r.run(now)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.TrainingRuns.WithLabelValues("succeeded").Inc()
	metrics.TrainingDuration.Observe(time.Since(began).Seconds())
	return result, nil
}

func (r *Runner) run(now time.Time) (*RunResult, error) {
	start, end, ok, err := r.store.ObservationRange()
	if err != nil {
		return nil, fmt.Errorf("pipeline: observation range: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("pipeline: no observations: %w", evaluate.ErrInsufficientData)
	}

	obs, err := r.store.GetObservations(start, end)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load observations: %w", err)
	}
	if len(obs) < r.cfg.MinSamples {
		return nil, fmt.Errorf("pipeline: %d observations, need %d: %w",
			len(obs), r.cfg.MinSamples, evaluate.ErrInsufficientData)
	}

	log.Printf("pipeline: training %s on %d observations (%s..%s)",
		r.cfg.ModelName, len(obs), models.DateKey(start), models.DateKey(end))

	rows := features.Engineer(obs, r.calendar(start, end))
	if len(rows) == 0 {
		return nil, fmt.Errorf("pipeline: no usable feature rows: %w", evaluate.ErrInsufficientData)
	}

	trainRows, testRows, err := evaluate.SplitHoldout(rows, r.cfg.TestWindowDays)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	cv, err := evaluate.CrossValidate(rows, r.cfg.CVFolds, r.cfg.Hyperparams)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	trainer := train.New(r.cfg.Hyperparams, r.cfg.MinSamples)
	fit, err := trainer.Train(trainRows, testRows)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	allMetrics := make(map[string]float64, len(fit.Metrics)+4)
	for k, v := range fit.Metrics {
		allMetrics[k] = v
	}
	for k, v := range cv.Metrics() {
		allMetrics[k] = v
	}

	version := registry.GenerateVersion(now)

	modelBytes, err := fit.Model.Marshal()
	if err != nil {
		return nil, fmt.Errorf("pipeline: serialize model: %w", err)
	}
	metricsDoc, err := json.Marshal(struct {
		Metrics           map[string]float64 `json:"metrics"`
		FeatureImportance map[string]float64 `json:"feature_importance"`
	}{allMetrics, fit.Importances})
	if err != nil {
		return nil, fmt.Errorf("pipeline: serialize metrics: %w", err)
	}

	ref, err := r.artifacts.Put(r.cfg.ModelName, version, modelBytes, metricsDoc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: store artifact: %w", err)
	}

	id, err := r.registry.Register(registry.RegisterParams{
		ModelName:    r.cfg.ModelName,
		Version:      version,
		Algorithm:    gbm.Algorithm,
		Metrics:      allMetrics,
		Hyperparams:  r.cfg.Hyperparams,
		FeatureNames: fit.FeatureNames,
		ArtifactRef:  ref,
		TrainStart:   start,
		TrainEnd:     end,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	log.Printf("pipeline: run complete model_id=%d version=%s test_mae=%.3f test_mape=%.3f",
		id, version, allMetrics["test_mae"], allMetrics["test_mape"])

	return &RunResult{
		ModelID:     id,
		Version:     version,
		ArtifactRef: ref,
		Metrics:     allMetrics,
		TrainRows:   len(trainRows),
		TestRows:    len(testRows),
	}, nil
}
