package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/indigoglass/nexus-forecast/internal/artifact"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/pipeline"
	"github.com/indigoglass/nexus-forecast/internal/registry"
	"github.com/indigoglass/nexus-forecast/internal/serving"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

func setupServer(t *testing.T) (*Server, *registry.Registry) {
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

	reg := registry.New(st)
	runner := pipeline.NewRunner(st, artifacts, reg, nil, pipeline.Config{
		ModelName:      "demand_forecast",
		TestWindowDays: 14,
		CVFolds:        3,
		MinSamples:     30,
		Hyperparams:    models.DefaultHyperparameters(),
	})
	return NewServer(st, reg, serving.New(st, artifacts, nil), runner, "0"), reg
}

func registerModel(t *testing.T, reg *registry.Registry, version string) int64 {
	t.Helper()
	id, err := reg.Register(registry.RegisterParams{
		ModelName:    "demand_forecast",
		Version:      version,
		Algorithm:    "gbt",
		Metrics:      map[string]float64{"test_mae": 2.0},
		Hyperparams:  models.DefaultHyperparameters(),
		FeatureNames: []string{"day_of_week"},
		ArtifactRef:  "file:///tmp/x/model.json",
		TrainStart:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		TrainEnd:     time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return id
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetForecastValidation(t *testing.T) {
	s, _ := setupServer(t)
	h := s.Handler()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing params", "/api/forecast", http.StatusBadRequest},
		{"missing location", "/api/forecast?product_id=SKU-001", http.StatusBadRequest},
		{"bad date", "/api/forecast?product_id=SKU-001&location_id=STORE-01&start=yesterday", http.StatusBadRequest},
		{"unassigned pair ok", "/api/forecast?product_id=SKU-001&location_id=STORE-01", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodGet, tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetForecastUnassignedReturnsEmptyList(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet,
		"/api/forecast?product_id=SKU-001&location_id=STORE-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp forecastResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Forecasts == nil || len(resp.Forecasts) != 0 {
		t.Errorf("Forecasts = %v, want empty array", resp.Forecasts)
	}
}

func TestListModels(t *testing.T) {
	s, reg := setupServer(t)
	registerModel(t, reg, "v1")
	registerModel(t, reg, "v2")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list []modelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/models?status=prod", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("prod models = %d, want 0", len(list))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/models?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter: code = %d, want 400", rec.Code)
	}
}

func TestPromoteEndpoint(t *testing.T) {
	s, reg := setupServer(t)
	registerModel(t, reg, "v1")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/models/promote",
		`{"model_name": "demand_forecast", "version": "v1", "promoted_by": "ops"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp promoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PreviousStatus != "staged" || resp.NewStatus != "prod" {
		t.Errorf("transition %s -> %s, want staged -> prod", resp.PreviousStatus, resp.NewStatus)
	}

	// Second promotion of the same version conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/models/promote",
		`{"model_name": "demand_forecast", "version": "v1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("double promote: code = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/models/promote",
		`{"model_name": "demand_forecast", "version": "ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown version: code = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/models/promote", `{"version": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body fields: code = %d, want 400", rec.Code)
	}
}

func TestAssignEndpoint(t *testing.T) {
	s, reg := setupServer(t)
	id := registerModel(t, reg, "v1")
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/assignments",
		`{"product_id": "SKU-001", "location_id": "STORE-01", "model_id": 999}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown model: code = %d, want 404", rec.Code)
	}

	body, _ := json.Marshal(assignRequest{ProductID: "SKU-001", LocationID: "STORE-01", ModelID: id})
	rec = doJSON(t, h, http.MethodPost, "/api/assignments", string(body))
	if rec.Code != http.StatusNoContent {
		t.Errorf("assign: code = %d, want 204: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/assignments", `{"product_id": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty fields: code = %d, want 400", rec.Code)
	}
}

func TestTrainEndpointInsufficientData(t *testing.T) {
	s, _ := setupServer(t)

	// An empty store cannot support a training run; the taxonomy maps
	// that to 422, not 500.
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/train", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body)
	}
}

func TestScoreBatchEndpoint(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/score-batch", `{"horizon_days": 7}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp scoreBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID == "" || resp.Status != "queued" {
		t.Errorf("response = %+v", resp)
	}
}
