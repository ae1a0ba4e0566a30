package serving

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/indigoglass/nexus-forecast/internal/artifact"
	"github.com/indigoglass/nexus-forecast/internal/features"
	"github.com/indigoglass/nexus-forecast/internal/gbm"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

// fixture wires a store, an artifact dir, and one trained+assigned model
// with 60 days of history for SKU-001/STORE-01 ending the day before
// scoreStart.
type fixture struct {
	store      *store.Store
	adapter    *Adapter
	modelID    int64
	scoreStart time.Time
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	scoreStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	histStart := scoreStart.AddDate(0, 0, -60)
	rng := rand.New(rand.NewSource(4))

	var obs []models.Observation
	for d := histStart; d.Before(scoreStart); d = d.AddDate(0, 0, 1) {
		o := models.Observation{
			Date:       d,
			ProductID:  "SKU-001",
			LocationID: "STORE-01",
			Quantity:   40 + 10*float64(d.Weekday()%2) + rng.NormFloat64()*2,
		}
		obs = append(obs, o)
		if _, err := st.InsertObservation(o); err != nil {
			t.Fatalf("InsertObservation: %v", err)
		}
	}

	rows := features.Engineer(obs, features.USCalendar(histStart, scoreStart))
	if len(rows) == 0 {
		t.Fatal("no engineered rows")
	}
	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Features
		y[i] = r.Quantity
	}

	hp := models.Hyperparameters{MaxDepth: 3, LearningRate: 0.1, NumTrees: 20, MinSamplesLeaf: 1, Seed: 42}
	model, err := gbm.Fit(x, y, hp)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	blob, err := model.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ref, err := artifacts.Put("demand_forecast", "v1", blob, []byte("{}"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	modelID, err := st.InsertModel(models.TrainedModel{
		ModelName:    "demand_forecast",
		Version:      "v1",
		Algorithm:    gbm.Algorithm,
		Metrics:      map[string]float64{"test_rmse": 2.0},
		Hyperparams:  hp,
		FeatureNames: features.Columns(),
		ArtifactRef:  ref,
		TrainStart:   histStart,
		TrainEnd:     scoreStart.AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("InsertModel: %v", err)
	}
	if err := st.AssignModel("SKU-001", "STORE-01", modelID); err != nil {
		t.Fatalf("AssignModel: %v", err)
	}

	return &fixture{
		store:      st,
		adapter:    New(st, artifacts, nil),
		modelID:    modelID,
		scoreStart: scoreStart,
	}
}

func TestGetForecastScoresWindow(t *testing.T) {
	f := setupFixture(t)
	end := f.scoreStart.AddDate(0, 0, 4)

	rows, err := f.adapter.GetForecast("SKU-001", "STORE-01", f.scoreStart, end)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("len(rows) = %d, want 5", len(rows))
	}

	for i, r := range rows {
		want := f.scoreStart.AddDate(0, 0, i)
		if !r.Date.Equal(want) {
			t.Errorf("row %d date = %s, want %s", i, models.DateKey(r.Date), models.DateKey(want))
		}
		if r.ForecastQuantity < 0 {
			t.Errorf("row %d forecast %v < 0", i, r.ForecastQuantity)
		}
		if r.IntervalLow < 0 {
			t.Errorf("row %d interval_low %v < 0", i, r.IntervalLow)
		}
		if r.IntervalLow > r.ForecastQuantity || r.IntervalHigh < r.ForecastQuantity {
			t.Errorf("row %d point %v outside [%v, %v]", i, r.ForecastQuantity, r.IntervalLow, r.IntervalHigh)
		}
		if r.ModelVersion != "v1" {
			t.Errorf("row %d model version = %q", i, r.ModelVersion)
		}
	}

	// Interval half-width is z * test_rmse unless the floor bites.
	if r := rows[0]; r.IntervalLow > 0 {
		halfWidth := r.IntervalHigh - r.ForecastQuantity
		if diff := halfWidth - 1.645*2.0; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("half-width = %v, want %v", halfWidth, 1.645*2.0)
		}
	}
}

func TestGetForecastRepeatIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	end := f.scoreStart.AddDate(0, 0, 2)

	first, err := f.adapter.GetForecast("SKU-001", "STORE-01", f.scoreStart, end)
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	second, err := f.adapter.GetForecast("SKU-001", "STORE-01", f.scoreStart, end)
	if err != nil {
		t.Fatalf("GetForecast repeat: %v", err)
	}

	for i := range first {
		if first[i].ForecastQuantity != second[i].ForecastQuantity {
			t.Errorf("row %d differs across identical calls: %v vs %v",
				i, first[i].ForecastQuantity, second[i].ForecastQuantity)
		}
	}

	stored, err := f.store.GetForecasts("SKU-001", "STORE-01", "v1", f.scoreStart, end)
	if err != nil {
		t.Fatalf("GetForecasts: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("%d stored rows after two scoring passes, want 3", len(stored))
	}
}

func TestGetForecastUnassignedPair(t *testing.T) {
	f := setupFixture(t)

	rows, err := f.adapter.GetForecast("SKU-404", "STORE-01", f.scoreStart, f.scoreStart.AddDate(0, 0, 6))
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("unassigned pair returned %d rows, want 0", len(rows))
	}
}

func TestGetForecastInsufficientHistory(t *testing.T) {
	f := setupFixture(t)

	// A pair with an assignment but only 10 days of history cannot build
	// lag features; serving degrades to an empty result, not an error.
	for i := 0; i < 10; i++ {
		_, err := f.store.InsertObservation(models.Observation{
			Date:       f.scoreStart.AddDate(0, 0, -10+i),
			ProductID:  "SKU-002",
			LocationID: "STORE-01",
			Quantity:   5,
		})
		if err != nil {
			t.Fatalf("InsertObservation: %v", err)
		}
	}
	if err := f.store.AssignModel("SKU-002", "STORE-01", f.modelID); err != nil {
		t.Fatalf("AssignModel: %v", err)
	}

	rows, err := f.adapter.GetForecast("SKU-002", "STORE-01", f.scoreStart, f.scoreStart.AddDate(0, 0, 6))
	if err != nil {
		t.Fatalf("GetForecast: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("short-history pair returned %d rows, want 0", len(rows))
	}
}

func TestGetForecastInvertedWindow(t *testing.T) {
	f := setupFixture(t)

	_, err := f.adapter.GetForecast("SKU-001", "STORE-01", f.scoreStart, f.scoreStart.AddDate(0, 0, -1))
	if err == nil {
		t.Error("end before start accepted")
	}
}
