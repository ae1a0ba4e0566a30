// Package registry versions, persists, and promotes trained models,
// and maintains the SKU×location serving assignment. Promotion is the
// only path from staged to prod, and at most one prod model exists per
// model name at any time.
package registry

import (
	"fmt"
	"log"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/metrics"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

// Error taxonomy for registry operations. All are recoverable at the
// caller level: a rejected request leaves no state change.
var (
	ErrNotFound        = store.ErrModelNotFound
	ErrAlreadyPromoted = store.ErrAlreadyPromoted
	ErrConflict        = store.ErrConflict
)

type Registry struct {
	store *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// GenerateVersion derives a registry-wide unique version string from an
// ingestion timestamp.
func GenerateVersion(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}

// RegisterParams describes a trained artifact to persist.
type RegisterParams struct {
	ModelName    string
	Version      string
	Algorithm    string
	Metrics      map[string]float64
	Hyperparams  models.Hyperparameters
	FeatureNames []string
	ArtifactRef  string
	TrainStart   time.Time
	TrainEnd     time.Time
}

// Register persists a new model in staged status and returns its id.
func (r *Registry) Register(p RegisterParams) (int64, error) {
	if p.ModelName == "" || p.Version == "" {
		return 0, fmt.Errorf("register: model name and version required")
	}
	if len(p.FeatureNames) == 0 {
		return 0, fmt.Errorf("register: ordered feature names required for serving-time alignment")
	}

	id, err := r.store.InsertModel(models.TrainedModel{
		ModelName:    p.ModelName,
		Version:      p.Version,
		Algorithm:    p.Algorithm,
		Metrics:      p.Metrics,
		Hyperparams:  p.Hyperparams,
		FeatureNames: p.FeatureNames,
		ArtifactRef:  p.ArtifactRef,
		TrainStart:   p.TrainStart,
		TrainEnd:     p.TrainEnd,
	})
	if err != nil {
		return 0, fmt.Errorf("register %s/%s: %w", p.ModelName, p.Version, err)
	}

	log.Printf("registry: registered %s/%s id=%d status=staged", p.ModelName, p.Version, id)
	return id, nil
}

// PromoteResult reports the status transition a promotion performed.
type PromoteResult struct {
	ModelID        int64
	PreviousStatus models.ModelStatus
	NewStatus      models.ModelStatus
	PromotedAt     time.Time
}

// Promote makes (name, version) the prod model for its name. The prior
// prod model, if any, is archived in the same atomic update. Returns
// ErrNotFound, ErrAlreadyPromoted, or ErrConflict per the taxonomy.
func (r *Registry) Promote(name, version, promotedBy string) (*PromoteResult, error) {
	res, err := r.store.PromoteModel(name, version, promotedBy)
	if err != nil {
		metrics.ModelPromotions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	metrics.ModelPromotions.WithLabelValues("promoted").Inc()
	log.Printf("registry: promoted %s/%s (%s -> %s) by %s",
		name, version, res.PreviousStatus, res.NewStatus, promotedBy)

	return &PromoteResult{
		ModelID:        res.ModelID,
		PreviousStatus: res.PreviousStatus,
		NewStatus:      res.NewStatus,
		PromotedAt:     res.PromotedAt,
	}, nil
}

// Archive retires a staged model without promoting it.
func (r *Registry) Archive(name, version string) error {
	return r.store.ArchiveModel(name, version)
}

// Assign upserts the serving assignment for a (product, location) pair.
func (r *Registry) Assign(productID, locationID string, modelID int64) error {
	if err := r.store.AssignModel(productID, locationID, modelID); err != nil {
		return err
	}
	log.Printf("registry: assigned model %d to %s/%s", modelID, productID, locationID)
	return nil
}

// Get fetches a model by (name, version).
func (r *Registry) Get(name, version string) (*models.TrainedModel, error) {
	return r.store.GetModel(name, version)
}

// List returns registry rows newest first, optionally filtered by status.
func (r *Registry) List(status models.ModelStatus, limit int) ([]models.TrainedModel, error) {
	return r.store.ListModels(status, limit)
}
