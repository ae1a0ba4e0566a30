package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// InsertModel persists a newly trained model with status staged and
// returns its registry id. (model_name, version) is unique.
func (s *Store) InsertModel(m models.TrainedModel) (int64, error) {
	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return 0, fmt.Errorf("encode metrics: %w", err)
	}
	hyperparamsJSON, err := json.Marshal(m.Hyperparams)
	if err != nil {
		return 0, fmt.Errorf("encode hyperparams: %w", err)
	}
	featuresJSON, err := json.Marshal(m.FeatureNames)
	if err != nil {
		return 0, fmt.Errorf("encode feature names: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO ml_models (
			model_name, version, algorithm, status,
			metrics_json, hyperparams_json, feature_names_json,
			artifact_ref, train_start, train_end, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ModelName, m.Version, m.Algorithm, string(models.StatusStaged),
		string(metricsJSON), string(hyperparamsJSON), string(featuresJSON),
		m.ArtifactRef, models.DateKey(m.TrainStart), models.DateKey(m.TrainEnd),
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert model: %w", err)
	}
	return res.LastInsertId()
}

const modelColumns = `
	id, model_name, version, algorithm, status,
	metrics_json, hyperparams_json, feature_names_json,
	artifact_ref, train_start, train_end, created_at, promoted_at, promoted_by
`

// GetModel fetches a registry row by (model_name, version). Returns
// ErrModelNotFound when no such pair exists.
func (s *Store) GetModel(name, version string) (*models.TrainedModel, error) {
	row := s.db.QueryRow(`SELECT `+modelColumns+` FROM ml_models WHERE model_name = ? AND version = ?`,
		name, version)
	return scanModel(row)
}

// GetModelByID fetches a registry row by id.
func (s *Store) GetModelByID(id int64) (*models.TrainedModel, error) {
	row := s.db.QueryRow(`SELECT `+modelColumns+` FROM ml_models WHERE id = ?`, id)
	return scanModel(row)
}

// GetProdModel returns the current prod model for a name, or nil when
// none is promoted.
func (s *Store) GetProdModel(name string) (*models.TrainedModel, error) {
	row := s.db.QueryRow(`SELECT `+modelColumns+` FROM ml_models WHERE model_name = ? AND status = ?`,
		name, string(models.StatusProd))
	m, err := scanModel(row)
	if err == ErrModelNotFound {
		return nil, nil
	}
	return m, err
}

// ListModels returns registry rows newest first, optionally filtered by
// status.
func (s *Store) ListModels(status models.ModelStatus, limit int) ([]models.TrainedModel, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + modelColumns + ` FROM ml_models`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TrainedModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// PromoteResult reports a completed promotion.
type PromoteResult struct {
	ModelID        int64
	PreviousStatus models.ModelStatus
	NewStatus      models.ModelStatus
	PromotedAt     time.Time
}

// PromoteModel atomically makes (name, version) the prod model for its
// name, demoting any current prod row to archived in the same
// transaction. A compare-and-swap on the target's status guards against
// a concurrent promotion: if the status changed between read and
// update, ErrConflict is returned and nothing is committed.
func (s *Store) PromoteModel(name, version, promotedBy string) (*PromoteResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var statusStr string
	err = tx.QueryRow(`SELECT id, status FROM ml_models WHERE model_name = ? AND version = ?`,
		name, version).Scan(&id, &statusStr)
	if err == sql.ErrNoRows {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup model: %w", err)
	}

	status := models.ModelStatus(statusStr)
	if status == models.StatusProd {
		return nil, ErrAlreadyPromoted
	}
	if !status.CanTransitionTo(models.StatusProd) {
		return nil, fmt.Errorf("cannot promote %s model %s/%s: %w", status, name, version, ErrConflict)
	}

	now := time.Now().UTC()

	if _, err := tx.Exec(`
		UPDATE ml_models SET status = ? WHERE model_name = ? AND status = ?
	`, string(models.StatusArchived), name, string(models.StatusProd)); err != nil {
		return nil, fmt.Errorf("archive prod model: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE ml_models SET status = ?, promoted_at = ?, promoted_by = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusProd), now, promotedBy, id, statusStr)
	if err != nil {
		return nil, fmt.Errorf("promote model: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrConflict
	}

	detail, _ := json.Marshal(map[string]string{
		"previous_status": statusStr,
		"new_status":      string(models.StatusProd),
	})
	if _, err := tx.Exec(`
		INSERT INTO audit_log (actor, action, entity, detail_json, created_at)
		VALUES (?, 'promote_model', ?, ?, ?)
	`, promotedBy, name+":"+version, string(detail), now); err != nil {
		return nil, fmt.Errorf("audit promote: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote: %w", err)
	}

	return &PromoteResult{
		ModelID:        id,
		PreviousStatus: status,
		NewStatus:      models.StatusProd,
		PromotedAt:     now,
	}, nil
}

// ArchiveModel retires a staged model that will never go to prod.
// Archived is terminal.
func (s *Store) ArchiveModel(name, version string) error {
	res, err := s.db.Exec(`
		UPDATE ml_models SET status = ? WHERE model_name = ? AND version = ? AND status = ?
	`, string(models.StatusArchived), name, version, string(models.StatusStaged))
	if err != nil {
		return fmt.Errorf("archive model: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		m, err := s.GetModel(name, version)
		if err != nil {
			return err
		}
		return fmt.Errorf("cannot archive %s model %s/%s: %w", m.Status, name, version, ErrConflict)
	}
	return nil
}

// AssignModel upserts the serving assignment for a (product, location)
// pair. The upsert is a single statement, so a concurrent assignment
// for the same pair cannot leave two rows.
func (s *Store) AssignModel(productID, locationID string, modelID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM ml_models WHERE id = ?`, modelID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrModelNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup model %d: %w", modelID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO ml_model_assignments (product_id, location_id, model_id, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET
			model_id = excluded.model_id,
			assigned_at = excluded.assigned_at
	`, productID, locationID, modelID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign model: %w", err)
	}

	return tx.Commit()
}

// GetAssignment returns the active assignment for a pair, or nil when
// the pair has none.
func (s *Store) GetAssignment(productID, locationID string) (*models.ModelAssignment, error) {
	var a models.ModelAssignment
	err := s.db.QueryRow(`
		SELECT product_id, location_id, model_id, assigned_at
		FROM ml_model_assignments
		WHERE product_id = ? AND location_id = ?
	`, productID, locationID).Scan(&a.ProductID, &a.LocationID, &a.ModelID, &a.AssignedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*models.TrainedModel, error) {
	var m models.TrainedModel
	var statusStr string
	var metricsJSON, hyperparamsJSON, featuresJSON sql.NullString
	var trainStart, trainEnd sqlNullDate

	err := row.Scan(
		&m.ID, &m.ModelName, &m.Version, &m.Algorithm, &statusStr,
		&metricsJSON, &hyperparamsJSON, &featuresJSON,
		&m.ArtifactRef, &trainStart, &trainEnd, &m.CreatedAt, &m.PromotedAt, &m.PromotedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Status = models.ModelStatus(statusStr)
	if !m.Status.Valid() {
		return nil, fmt.Errorf("model %d has unknown status %q", m.ID, statusStr)
	}
	m.TrainStart = trainStart.Time
	m.TrainEnd = trainEnd.Time

	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &m.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for model %d: %w", m.ID, err)
		}
	}
	if hyperparamsJSON.Valid && hyperparamsJSON.String != "" {
		if err := json.Unmarshal([]byte(hyperparamsJSON.String), &m.Hyperparams); err != nil {
			return nil, fmt.Errorf("decode hyperparams for model %d: %w", m.ID, err)
		}
	}
	if featuresJSON.Valid && featuresJSON.String != "" {
		if err := json.Unmarshal([]byte(featuresJSON.String), &m.FeatureNames); err != nil {
			return nil, fmt.Errorf("decode feature names for model %d: %w", m.ID, err)
		}
	}
	return &m, nil
}
