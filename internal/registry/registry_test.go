package registry

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

func setupRegistry(t *testing.T) *Registry {
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
	return New(st)
}

func testParams(version string) RegisterParams {
	return RegisterParams{
		ModelName:    "demand_forecast",
		Version:      version,
		Algorithm:    "gbt",
		Metrics:      map[string]float64{"test_mae": 2.0},
		Hyperparams:  models.DefaultHyperparameters(),
		FeatureNames: []string{"day_of_week", "qty_lag_1d"},
		ArtifactRef:  "file:///tmp/a/model.json",
		TrainStart:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		TrainEnd:     time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestGenerateVersion(t *testing.T) {
	at := time.Date(2026, 8, 15, 4, 0, 0, 0, time.FixedZone("AEST", 10*3600))
	if got := GenerateVersion(at); got != "20260814_180000" {
		t.Errorf("GenerateVersion = %q, want UTC-normalized 20260814_180000", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := setupRegistry(t)

	p := testParams("v1")
	p.ModelName = ""
	if _, err := reg.Register(p); err == nil {
		t.Error("empty model name accepted")
	}

	p = testParams("v1")
	p.FeatureNames = nil
	if _, err := reg.Register(p); err == nil {
		t.Error("missing feature names accepted")
	}
}

func TestRegisterPromoteLifecycle(t *testing.T) {
	reg := setupRegistry(t)

	id, err := reg.Register(testParams("v1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	m, err := reg.Get("demand_forecast", "v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.ID != id || m.Status != models.StatusStaged {
		t.Fatalf("registered model = id %d status %s", m.ID, m.Status)
	}

	res, err := reg.Promote("demand_forecast", "v1", "release-bot")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.NewStatus != models.StatusProd {
		t.Errorf("NewStatus = %s, want prod", res.NewStatus)
	}

	if _, err := reg.Promote("demand_forecast", "v1", "release-bot"); err != ErrAlreadyPromoted {
		t.Errorf("second promote err = %v, want ErrAlreadyPromoted", err)
	}
	if _, err := reg.Promote("demand_forecast", "ghost", "release-bot"); err != ErrNotFound {
		t.Errorf("missing version err = %v, want ErrNotFound", err)
	}

	staged, err := reg.List(models.StatusStaged, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("%d staged models after promotion, want 0", len(staged))
	}
}
