// Package features turns raw per-day sales observations into the
// supervised-learning feature matrix consumed by the trainer and the
// serving adapter. Everything here is pure and deterministic: the same
// observations and calendar always produce the same rows.
//
// Every lag/rolling/trend feature at date d is computed from quantities
// observed strictly before d. Calendar and holiday features depend only
// on d itself.
package features

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// minHistory is the number of prior observations a row needs before all
// of its lag features are defined. Rows with less history are dropped,
// not imputed.
const minHistory = 28

// ErrInsufficientHistory is returned by Vector when the series is too
// short for the 28-day lag.
var ErrInsufficientHistory = errors.New("insufficient history for lag features")

var columns = []string{
	// Calendar
	"day_of_week", "day_of_month", "day_of_year", "week_of_year",
	"month", "quarter", "year",
	"dow_sin", "dow_cos", "month_sin", "month_cos",
	"is_weekend", "is_month_start", "is_month_end",

	// Holiday proximity
	"is_holiday", "days_to_holiday", "days_since_holiday",

	// Lags
	"qty_lag_1d", "qty_lag_7d", "qty_lag_14d", "qty_lag_28d",
	"qty_same_dow_1w", "qty_same_dow_2w", "qty_same_dow_4w",

	// Rolling statistics (strictly backward-looking)
	"qty_rolling_mean_7d", "qty_rolling_std_7d",
	"qty_rolling_min_7d", "qty_rolling_max_7d",
	"qty_rolling_mean_14d", "qty_rolling_std_14d",
	"qty_rolling_min_14d", "qty_rolling_max_14d",
	"qty_rolling_mean_28d", "qty_rolling_std_28d",
	"qty_rolling_min_28d", "qty_rolling_max_28d",

	// Trend
	"qty_wow_change", "qty_wow_pct_change", "short_long_ratio",
}

// Columns returns the canonical ordered feature-name list. Trained
// models persist this list so scoring can reconstruct the exact vector.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// Engineer maps raw observations to feature rows, one per (group, date)
// with enough history. Groups are computed independently; rows with any
// undefined lag feature are dropped. Output is sorted by date, then
// product, then location.
func Engineer(obs []models.Observation, cal Calendar) []models.FeatureRow {
	groups := make(map[models.GroupKey][]models.Observation)
	var keys []models.GroupKey
	for _, o := range obs {
		k := models.GroupKey{ProductID: o.ProductID, LocationID: o.LocationID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], o)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].LocationID < keys[j].LocationID
	})

	var rows []models.FeatureRow
	for _, k := range keys {
		series := groups[k]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

		history := make([]float64, 0, len(series))
		for _, o := range series {
			history = append(history, o.Quantity)
		}

		for i := minHistory; i < len(series); i++ {
			vec, err := Vector(history[:i], series[i].Date, cal)
			if err != nil {
				continue
			}
			rows = append(rows, models.FeatureRow{
				Date:       midnightUTC(series[i].Date),
				ProductID:  k.ProductID,
				LocationID: k.LocationID,
				Quantity:   series[i].Quantity,
				Features:   vec,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].LocationID < rows[j].LocationID
	})
	return rows
}

// Vector computes the ordered feature vector for one future or training
// date, given the group's quantity series strictly before that date
// (oldest first). The history must cover the longest lag.
func Vector(history []float64, date time.Time, cal Calendar) ([]float64, error) {
	n := len(history)
	if n < minHistory {
		return nil, ErrInsufficientHistory
	}

	d := midnightUTC(date)
	vec := make([]float64, 0, len(columns))

	// Calendar
	dow := mondayWeekday(d)
	_, isoWeek := d.ISOWeek()
	vec = append(vec,
		float64(dow),
		float64(d.Day()),
		float64(d.YearDay()),
		float64(isoWeek),
		float64(int(d.Month())),
		float64((int(d.Month())-1)/3+1),
		float64(d.Year()),
		math.Sin(2*math.Pi*float64(dow)/7),
		math.Cos(2*math.Pi*float64(dow)/7),
		math.Sin(2*math.Pi*float64(int(d.Month()))/12),
		math.Cos(2*math.Pi*float64(int(d.Month()))/12),
		boolFeature(dow >= 5),
		boolFeature(d.Day() == 1),
		boolFeature(d.AddDate(0, 0, 1).Month() != d.Month()),
	)

	// Holiday proximity
	vec = append(vec,
		boolFeature(cal.IsHoliday(d)),
		float64(cal.DaysToNext(d)),
		float64(cal.DaysSinceLast(d)),
	)

	// Lags. The same-day-of-week lags at 1/2/4 weeks coincide with the
	// 7/14/28-day lags by construction but are kept as separate named
	// features for importance reporting.
	lag := func(k int) float64 { return history[n-k] }
	vec = append(vec,
		lag(1), lag(7), lag(14), lag(28),
		lag(7), lag(14), lag(28),
	)

	// Rolling statistics over trailing windows, excluding the current
	// day (the history already ends the day before).
	var mean7, mean28 float64
	for _, w := range []int{7, 14, 28} {
		window := history[n-w:]
		mean := meanOf(window)
		vec = append(vec, mean, sampleStd(window), minOf(window), maxOf(window))
		switch w {
		case 7:
			mean7 = mean
		case 28:
			mean28 = mean
		}
	}

	// Trend
	wow := lag(1) - lag(8)
	vec = append(vec,
		wow,
		wow/(lag(8)+1),
		mean7/(mean28+1),
	)

	return vec, nil
}

// mondayWeekday maps time.Weekday (Sunday=0) to Monday=0 indexing.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the sample standard deviation, defined as 0 (not NaN)
// when there are fewer than two points.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := meanOf(xs)
	var ss float64
	for _, x := range xs {
		diff := x - mean
		ss += diff * diff
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
