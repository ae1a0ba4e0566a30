package store

import (
	"time"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// InsertForecast stores one scored row. Rows are immutable once
// written: re-inserting the same (date, product, location,
// model_version) key is a no-op, so re-scoring is idempotent.
func (s *Store) InsertForecast(f models.ForecastRow) error {
	_, err := s.db.Exec(`
		INSERT INTO forecasts (date, product_id, location_id, forecast_quantity, interval_low, interval_high, model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, product_id, location_id, model_version) DO NOTHING
	`, models.DateKey(f.Date), f.ProductID, f.LocationID,
		f.ForecastQuantity, f.IntervalLow, f.IntervalHigh, f.ModelVersion)
	return err
}

// GetForecasts returns the stored rows for a pair and model version in
// [start, end], ordered by date.
func (s *Store) GetForecasts(productID, locationID, modelVersion string, start, end time.Time) ([]models.ForecastRow, error) {
	rows, err := s.db.Query(`
		SELECT date, product_id, location_id, forecast_quantity, interval_low, interval_high, model_version
		FROM forecasts
		WHERE product_id = ? AND location_id = ? AND model_version = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, productID, locationID, modelVersion, models.DateKey(start), models.DateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForecastRow
	for rows.Next() {
		var f models.ForecastRow
		var date sqlNullDate
		if err := rows.Scan(&date, &f.ProductID, &f.LocationID,
			&f.ForecastQuantity, &f.IntervalLow, &f.IntervalHigh, &f.ModelVersion); err != nil {
			return nil, err
		}
		f.Date = date.Time
		out = append(out, f)
	}
	return out, rows.Err()
}
