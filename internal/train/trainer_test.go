package train

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/evaluate"
	"github.com/indigoglass/nexus-forecast/internal/features"
	"github.com/indigoglass/nexus-forecast/internal/models"
)

// engineeredRows runs the real feature pipeline over a synthetic demand
// series so the trainer sees production-shaped input.
func engineeredRows(t *testing.T, days int) []models.FeatureRow {
	t.Helper()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(2))

	obs := make([]models.Observation, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		qty := 50 + 20*float64(d.Weekday()%3) + rng.NormFloat64()*3
		obs = append(obs, models.Observation{
			Date: d, ProductID: "SKU-001", LocationID: "STORE-01", Quantity: qty,
		})
	}
	rows := features.Engineer(obs, features.USCalendar(start, start.AddDate(0, 0, days)))
	if len(rows) == 0 {
		t.Fatal("no engineered rows")
	}
	return rows
}

func TestTrainRejectsTooFewSamples(t *testing.T) {
	rows := engineeredRows(t, 50) // 22 usable rows
	trainer := New(models.DefaultHyperparameters(), 30)

	_, err := trainer.Train(rows, nil)
	if !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
}

func TestTrainProducesMetricsAndImportances(t *testing.T) {
	rows := engineeredRows(t, 90) // 62 usable rows
	trainRows, testRows, err := evaluate.SplitHoldout(rows, 14)
	if err != nil {
		t.Fatalf("SplitHoldout: %v", err)
	}

	hp := models.DefaultHyperparameters()
	hp.NumTrees = 30 // keep the test quick
	trainer := New(hp, 30)

	result, err := trainer.Train(trainRows, testRows)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, key := range []string{"train_mae", "train_rmse", "test_mae", "test_rmse", "test_mape"} {
		if _, ok := result.Metrics[key]; !ok {
			t.Errorf("Metrics missing %q", key)
		}
	}
	if result.Metrics["test_mae"] <= 0 {
		t.Errorf("test_mae = %v, want > 0", result.Metrics["test_mae"])
	}

	cols := features.Columns()
	if len(result.FeatureNames) != len(cols) {
		t.Fatalf("len(FeatureNames) = %d, want %d", len(result.FeatureNames), len(cols))
	}
	var total float64
	for _, name := range cols {
		v, ok := result.Importances[name]
		if !ok {
			t.Errorf("Importances missing %q", name)
		}
		total += v
	}
	if total < 0.999 || total > 1.001 {
		t.Errorf("importances sum to %v, want 1", total)
	}
}

func TestTrainDeterministic(t *testing.T) {
	rows := engineeredRows(t, 90)
	trainRows, testRows, err := evaluate.SplitHoldout(rows, 14)
	if err != nil {
		t.Fatalf("SplitHoldout: %v", err)
	}

	hp := models.DefaultHyperparameters()
	hp.NumTrees = 20
	trainer := New(hp, 30)

	r1, err := trainer.Train(trainRows, testRows)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	r2, err := trainer.Train(trainRows, testRows)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for key, v := range r1.Metrics {
		if r2.Metrics[key] != v {
			t.Errorf("metric %s differs across identical runs: %v vs %v", key, v, r2.Metrics[key])
		}
	}
}
