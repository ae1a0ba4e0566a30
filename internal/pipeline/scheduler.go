package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/indigoglass/nexus-forecast/internal/ingest"
	"github.com/indigoglass/nexus-forecast/internal/serving"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

// ScheduleConfig holds the cron cadence for the pipeline stages.
type ScheduleConfig struct {
	IngestSpec     string // e.g. "30 1 * * *"
	TrainSpec      string // e.g. "0 4 * * *"
	IngestLookback int    // days of history each ingest pull covers
	HorizonDays    int    // scoring horizon after each training run
}

// Scheduler drives the pipeline on a cadence: warehouse pulls, nightly
// training, and post-training scoring of every observed pair. Stages
// for the same data are not run concurrently; cron jobs queue behind
// each other per entry.
type Scheduler struct {
	cron     *cron.Cron
	ingester *ingest.Ingester
	runner   *Runner
	adapter  *serving.Adapter
	store    *store.Store
	cfg      ScheduleConfig
}

func NewScheduler(ing *ingest.Ingester, runner *Runner, adapter *serving.Adapter, st *store.Store, cfg ScheduleConfig) *Scheduler {
	if cfg.IngestLookback <= 0 {
		cfg.IngestLookback = 7
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 14
	}
	return &Scheduler{
		cron:     cron.New(),
		ingester: ing,
		runner:   runner,
		adapter:  adapter,
		store:    st,
		cfg:      cfg,
	}
}

// Run installs the cron entries, performs one immediate ingest, and
// blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ingestRecent()

	if _, err := s.cron.AddFunc(s.cfg.IngestSpec, s.ingestRecent); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.TrainSpec, s.trainAndScore); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("scheduler: running (ingest %q, train %q)", s.cfg.IngestSpec, s.cfg.TrainSpec)

	<-ctx.Done()
	log.Println("scheduler: shutting down")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) ingestRecent() {
	if s.ingester == nil {
		return
	}
	end := today().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(s.cfg.IngestLookback - 1))
	if err := s.ingester.IngestWindow(start, end); err != nil {
		log.Printf("scheduler: ingest: %v", err)
	}
}

func (s *Scheduler) trainAndScore() {
	result, err := s.runner.Run(time.Now())
	if err != nil {
		log.Printf("scheduler: training run: %v", err)
		return
	}
	log.Printf("scheduler: trained %s (model_id=%d)", result.Version, result.ModelID)

	s.scoreAssigned()
}

// scoreAssigned refreshes forecast rows for every observed pair over
// the horizon. Pairs without an assignment come back empty and are
// skipped.
func (s *Scheduler) scoreAssigned() {
	groups, err := s.store.ObservationGroups()
	if err != nil {
		log.Printf("scheduler: list groups: %v", err)
		return
	}

	start := today().AddDate(0, 0, 1)
	end := start.AddDate(0, 0, s.cfg.HorizonDays-1)

	var scored int
	for _, g := range groups {
		rows, err := s.adapter.GetForecast(g.ProductID, g.LocationID, start, end)
		if err != nil {
			log.Printf("scheduler: score %s/%s: %v", g.ProductID, g.LocationID, err)
			continue
		}
		if len(rows) > 0 {
			scored++
		}
	}
	log.Printf("scheduler: scored %d/%d pairs over %d days", scored, len(groups), s.cfg.HorizonDays)
}

func today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
