package store

import (
	"time"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// InsertObservation stores one daily sales fact. Re-inserting the same
// (date, product, location) is a no-op, which keeps re-ingestion
// idempotent. Returns whether a new row was written.
func (s *Store) InsertObservation(o models.Observation) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO observations (date, product_id, location_id, quantity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, product_id, location_id) DO NOTHING
	`, models.DateKey(o.Date), o.ProductID, o.LocationID, o.Quantity)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetObservations returns all observations in [start, end] ordered by
// date, product, location — the ordering feature engineering expects.
func (s *Store) GetObservations(start, end time.Time) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT id, date, product_id, location_id, quantity, created_at
		FROM observations
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, product_id ASC, location_id ASC
	`, models.DateKey(start), models.DateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// GetGroupObservations returns one (product, location) series in
// [start, end], oldest first.
func (s *Store) GetGroupObservations(productID, locationID string, start, end time.Time) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT id, date, product_id, location_id, quantity, created_at
		FROM observations
		WHERE product_id = ? AND location_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, productID, locationID, models.DateKey(start), models.DateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ObservationRange returns the earliest and latest observation dates,
// or ok=false when the table is empty.
func (s *Store) ObservationRange() (start, end time.Time, ok bool, err error) {
	var minDate, maxDate sqlNullDate
	row := s.db.QueryRow(`SELECT MIN(date), MAX(date) FROM observations`)
	if err := row.Scan(&minDate, &maxDate); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !minDate.Valid || !maxDate.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return minDate.Time, maxDate.Time, true, nil
}

// ObservationGroups lists the distinct (product, location) pairs with
// observations, for batch scoring.
func (s *Store) ObservationGroups() ([]models.GroupKey, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT product_id, location_id
		FROM observations
		ORDER BY product_id, location_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.GroupKey
	for rows.Next() {
		var k models.GroupKey
		if err := rows.Scan(&k.ProductID, &k.LocationID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanObservations(rows rowScanner) ([]models.Observation, error) {
	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var date sqlNullDate
		if err := rows.Scan(&o.ID, &date, &o.ProductID, &o.LocationID, &o.Quantity, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Date = date.Time
		out = append(out, o)
	}
	return out, rows.Err()
}
