package store

import (
	"database/sql"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// StartIngestRun records the beginning of a warehouse pull for a
// window. The returned run is finalized with FinishIngestRun.
func (s *Store) StartIngestRun(source string, windowStart, windowEnd time.Time) (*models.IngestRun, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO ingest_runs (source, window_start, window_end, started_at)
		VALUES (?, ?, ?, ?)
	`, source, models.DateKey(windowStart), models.DateKey(windowEnd), now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.IngestRun{
		ID:          id,
		Source:      source,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		StartedAt:   now,
	}, nil
}

// FinishIngestRun writes the run's outcome.
func (s *Store) FinishIngestRun(run *models.IngestRun) error {
	_, err := s.db.Exec(`
		UPDATE ingest_runs
		SET completed_at = ?, success = ?, records_seen = ?, records_new = ?, error_message = ?
		WHERE id = ?
	`, time.Now().UTC(), run.Success, run.RecordsSeen, run.RecordsNew, run.ErrorMessage, run.ID)
	return err
}

// HasCompletedIngestRun reports whether a successful run already exists
// for the same (source, window) idempotency key.
func (s *Store) HasCompletedIngestRun(source string, windowStart, windowEnd time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM ingest_runs
		WHERE source = ? AND window_start = ? AND window_end = ? AND success = TRUE
		LIMIT 1
	`, source, models.DateKey(windowStart), models.DateKey(windowEnd)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
