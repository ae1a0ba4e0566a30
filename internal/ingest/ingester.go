package ingest

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/indigoglass/nexus-forecast/internal/metrics"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

const sourceWarehouse = "warehouse"

// Ingester pulls observation windows from the warehouse feed and mirrors
// them into the store.
type Ingester struct {
	store     *store.Store
	warehouse *WarehouseClient
}

func NewIngester(st *store.Store, warehouse *WarehouseClient) *Ingester {
	return &Ingester{store: st, warehouse: warehouse}
}

// IngestWindow pulls one [start, end] window. A window that already has
// a successful run is skipped outright; otherwise individual duplicate
// observations are no-ops at the row level.
func (i *Ingester) IngestWindow(start, end time.Time) error {
	done, err := i.store.HasCompletedIngestRun(sourceWarehouse, start, end)
	if err != nil {
		return fmt.Errorf("ingest: check prior runs: %w", err)
	}
	if done {
		log.Printf("ingest: window %s..%s already ingested, skipping",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
		return nil
	}

	run, err := i.store.StartIngestRun(sourceWarehouse, start, end)
	if err != nil {
		return fmt.Errorf("ingest: start run: %w", err)
	}

	obs, err := i.warehouse.FetchSales(start, end)
	if err != nil {
		run.Success = false
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		if ferr := i.store.FinishIngestRun(run); ferr != nil {
			log.Printf("ingest: finish failed run: %v", ferr)
		}
		return fmt.Errorf("ingest: fetch window: %w", err)
	}

	var inserted int
	for _, o := range obs {
		wrote, err := i.store.InsertObservation(o)
		if err != nil {
			run.Success = false
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
			if ferr := i.store.FinishIngestRun(run); ferr != nil {
				log.Printf("ingest: finish failed run: %v", ferr)
			}
			return fmt.Errorf("ingest: insert observation %s/%s %s: %w",
				o.ProductID, o.LocationID, models.DateKey(o.Date), err)
		}
		if wrote {
			inserted++
		}
	}

	run.Success = true
	run.RecordsSeen = sql.NullInt64{Int64: int64(len(obs)), Valid: true}
	run.RecordsNew = sql.NullInt64{Int64: int64(inserted), Valid: true}
	if err := i.store.FinishIngestRun(run); err != nil {
		return fmt.Errorf("ingest: finish run: %w", err)
	}

	metrics.ObservationsIngested.WithLabelValues(sourceWarehouse).Add(float64(inserted))
	log.Printf("ingest: window %s..%s seen=%d new=%d",
		start.Format("2006-01-02"), end.Format("2006-01-02"), len(obs), inserted)
	return nil
}
