package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Observation is a single day of sales for a (product, location) pair,
// as produced by the warehouse. Immutable once ingested.
type Observation struct {
	ID         int64
	Date       time.Time // UTC midnight
	ProductID  string
	LocationID string
	Quantity   float64
	CreatedAt  time.Time
}

// GroupKey identifies a forecastable series.
type GroupKey struct {
	ProductID  string
	LocationID string
}

// FeatureRow is one engineered training example: the ordered feature
// vector for a (product, location, date) plus the observed quantity as
// the label. Features is aligned with features.Columns().
type FeatureRow struct {
	Date       time.Time
	ProductID  string
	LocationID string
	Quantity   float64
	Features   []float64
}

// ModelStatus is the registry lifecycle state of a trained model.
type ModelStatus string

const (
	StatusStaged   ModelStatus = "staged"
	StatusProd     ModelStatus = "prod"
	StatusArchived ModelStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s ModelStatus) Valid() bool {
	switch s {
	case StatusStaged, StatusProd, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the registry permits moving from s to
// next. Archived is terminal; prod can only be archived.
func (s ModelStatus) CanTransitionTo(next ModelStatus) bool {
	switch s {
	case StatusStaged:
		return next == StatusProd || next == StatusArchived
	case StatusProd:
		return next == StatusArchived
	case StatusArchived:
		return false
	}
	return false
}

// Hyperparameters for the gradient-boosted regression learner.
type Hyperparameters struct {
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	NumTrees        int     `json:"n_estimators"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	Seed            int64   `json:"random_state"`
}

// DefaultHyperparameters returns the production training defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		MaxDepth:        6,
		LearningRate:    0.1,
		NumTrees:        100,
		MinSamplesLeaf:  1,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		Seed:            42,
	}
}

// TrainedModel is a registry row describing one trained artifact.
type TrainedModel struct {
	ID           int64
	ModelName    string
	Version      string
	Algorithm    string
	Status       ModelStatus
	Metrics      map[string]float64
	Hyperparams  Hyperparameters
	FeatureNames []string
	ArtifactRef  string
	TrainStart   time.Time
	TrainEnd     time.Time
	CreatedAt    time.Time
	PromotedAt   sql.NullTime
	PromotedBy   sql.NullString
}

// ModelAssignment maps a (product, location) pair to the model that
// serves its forecasts. At most one active assignment per pair.
type ModelAssignment struct {
	ProductID  string
	LocationID string
	ModelID    int64
	AssignedAt time.Time
}

// ForecastRow is one scored future day for a (product, location) pair,
// keyed by (date, product, location, model_version).
type ForecastRow struct {
	Date             time.Time
	ProductID        string
	LocationID       string
	ForecastQuantity float64
	IntervalLow      float64
	IntervalHigh     float64
	ModelVersion     string
}

// IngestRun records one pull from the warehouse feed for idempotent
// re-ingestion: a completed run for the same (source, window) is a no-op.
type IngestRun struct {
	ID           int64
	Source       string
	WindowStart  time.Time
	WindowEnd    time.Time
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	Success      bool
	RecordsSeen  sql.NullInt64
	RecordsNew   sql.NullInt64
	ErrorMessage sql.NullString
}

// DateKey formats a date the way the store and logs key days.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (o Observation) String() string {
	return fmt.Sprintf("%s %s/%s qty=%.1f", DateKey(o.Date), o.ProductID, o.LocationID, o.Quantity)
}
