package ingest

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

func setupIngestStore(t *testing.T) *store.Store {
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
	return st
}

const salesBody = `{"rows": [
	{"date": "2026-08-01", "product_id": "SKU-001", "location_id": "STORE-01", "quantity": 42},
	{"date": "2026-08-02", "product_id": "SKU-001", "location_id": "STORE-01", "quantity": 38.5},
	{"date": "2026-08-01", "product_id": "SKU-002", "location_id": "STORE-01", "quantity": 7}
]}`

func TestFetchSales(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, salesBody)
	}))
	defer srv.Close()

	client := NewWarehouseClient(srv.URL, "secret-token")
	obs, err := client.FetchSales(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchSales: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "start=2026-08-01&end=2026-08-07" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(obs) != 3 {
		t.Fatalf("len(obs) = %d, want 3", len(obs))
	}
	if obs[1].Quantity != 38.5 || !obs[1].Date.Equal(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("obs[1] = %+v", obs[1])
	}
}

func TestFetchSalesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, salesBody)
	}))
	defer srv.Close()

	client := NewWarehouseClient(srv.URL, "")
	obs, err := client.FetchSales(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchSales after retries: %v", err)
	}
	if len(obs) != 3 {
		t.Errorf("len(obs) = %d, want 3", len(obs))
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestFetchSalesClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewWarehouseClient(srv.URL, "bad-token")
	_, err := client.FetchSales(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("401 response accepted")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls for a 401, want 1 (no retry)", calls.Load())
	}
}

func TestIngestWindow(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, salesBody)
	}))
	defer srv.Close()

	st := setupIngestStore(t)
	ing := NewIngester(st, NewWarehouseClient(srv.URL, ""))

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)

	if err := ing.IngestWindow(start, end); err != nil {
		t.Fatalf("IngestWindow: %v", err)
	}

	obs, err := st.GetObservations(start, end)
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("len(obs) = %d, want 3", len(obs))
	}

	// The same window is skipped without touching the warehouse again.
	if err := ing.IngestWindow(start, end); err != nil {
		t.Fatalf("IngestWindow repeat: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("warehouse saw %d calls, want 1 (second window skipped)", calls.Load())
	}
}

func TestIngestWindowRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	st := setupIngestStore(t)
	ing := NewIngester(st, NewWarehouseClient(srv.URL, ""))

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)

	if err := ing.IngestWindow(start, end); err == nil {
		t.Fatal("failed fetch reported success")
	}

	// A failed run must not satisfy the idempotency check; a retry of the
	// window goes back to the warehouse.
	done, err := st.HasCompletedIngestRun("warehouse", start, end)
	if err != nil {
		t.Fatalf("HasCompletedIngestRun: %v", err)
	}
	if done {
		t.Error("failed run recorded as completed")
	}

	var obs []models.Observation
	obs, err = st.GetObservations(start, end)
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(obs) != 0 {
		t.Errorf("%d observations after failed ingest, want 0", len(obs))
	}
}
