package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/indigoglass/nexus-forecast/internal/api"
	"github.com/indigoglass/nexus-forecast/internal/artifact"
	"github.com/indigoglass/nexus-forecast/internal/ingest"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/pipeline"
	"github.com/indigoglass/nexus-forecast/internal/registry"
	"github.com/indigoglass/nexus-forecast/internal/serving"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

type cli struct {
	DB          string `env:"FORECAST_DB" default:"data/forecast.db" help:"Path to SQLite database."`
	ArtifactDir string `env:"FORECAST_ARTIFACT_DIR" default:"data/artifacts" help:"Root directory for model artifacts."`

	WarehouseURL string `env:"WAREHOUSE_URL" help:"Sales warehouse base URL. Ingest is disabled when empty."`
	WarehouseKey string `env:"WAREHOUSE_API_KEY" help:"Bearer token for the sales warehouse."`

	ModelName  string `env:"FORECAST_MODEL_NAME" default:"demand_forecast" help:"Registry name for trained models."`
	TestWindow int    `env:"FORECAST_TEST_WINDOW" default:"14" help:"Holdout window in days."`
	CVFolds    int    `env:"FORECAST_CV_FOLDS" default:"5" help:"Walk-forward validation folds."`
	MinSamples int    `env:"FORECAST_MIN_SAMPLES" default:"30" help:"Minimum feature rows required to train."`

	MaxDepth     int     `env:"FORECAST_MAX_DEPTH" default:"6"`
	LearningRate float64 `env:"FORECAST_LEARNING_RATE" default:"0.1"`
	NumTrees     int     `env:"FORECAST_NUM_TREES" default:"100"`
	Subsample    float64 `env:"FORECAST_SUBSAMPLE" default:"0.8"`
	Colsample    float64 `env:"FORECAST_COLSAMPLE" default:"0.8"`
	RandomSeed   int64   `env:"FORECAST_RANDOM_SEED" default:"42"`

	Serve   serveCmd   `cmd:"" help:"Run the HTTP server and scheduled pipeline."`
	Train   trainCmd   `cmd:"" help:"Run one training pass and register the model as staged."`
	Score   scoreCmd   `cmd:"" help:"Score assigned models over a future window."`
	Promote promoteCmd `cmd:"" help:"Promote a staged model to prod."`
	Seed    seedCmd    `cmd:"" help:"Load synthetic demand history for local development."`
}

// app carries the wired components into command Run methods.
type app struct {
	store     *store.Store
	artifacts *artifact.Store
	registry  *registry.Registry
	adapter   *serving.Adapter
	runner    *pipeline.Runner
	ingester  *ingest.Ingester
	cfg       *cli
}

func main() {
	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("forecastd"),
		kong.Description("Demand forecasting pipeline: ingest, train, promote, serve."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	artifacts, err := artifact.NewStore(flags.ArtifactDir)
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}

	reg := registry.New(st)
	adapter := serving.New(st, artifacts, nil)
	runner := pipeline.NewRunner(st, artifacts, reg, nil, pipeline.Config{
		ModelName:      flags.ModelName,
		TestWindowDays: flags.TestWindow,
		CVFolds:        flags.CVFolds,
		MinSamples:     flags.MinSamples,
		Hyperparams:    flags.hyperparams(),
	})

	var ingester *ingest.Ingester
	if flags.WarehouseURL != "" {
		ingester = ingest.NewIngester(st, ingest.NewWarehouseClient(flags.WarehouseURL, flags.WarehouseKey))
	}

	err = ctx.Run(&app{
		store:     st,
		artifacts: artifacts,
		registry:  reg,
		adapter:   adapter,
		runner:    runner,
		ingester:  ingester,
		cfg:       &flags,
	})
	ctx.FatalIfErrorf(err)
}

func (c *cli) hyperparams() models.Hyperparameters {
	return models.Hyperparameters{
		MaxDepth:        c.MaxDepth,
		LearningRate:    c.LearningRate,
		NumTrees:        c.NumTrees,
		MinSamplesLeaf:  1,
		Subsample:       c.Subsample,
		ColsampleByTree: c.Colsample,
		Seed:            c.RandomSeed,
	}
}

type serveCmd struct {
	Port           string `env:"FORECAST_PORT" default:"8080" help:"HTTP listen port."`
	NoSchedule     bool   `help:"Disable the cron pipeline (server only, for local dev)."`
	IngestCron     string `env:"FORECAST_INGEST_CRON" default:"30 1 * * *" help:"Cron spec for warehouse pulls."`
	TrainCron      string `env:"FORECAST_TRAIN_CRON" default:"0 4 * * *" help:"Cron spec for training runs."`
	IngestLookback int    `env:"FORECAST_INGEST_LOOKBACK" default:"7" help:"Days of history each ingest pull covers."`
	Horizon        int    `env:"FORECAST_HORIZON" default:"14" help:"Scoring horizon in days after each training run."`
}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoSchedule {
		scheduler := pipeline.NewScheduler(a.ingester, a.runner, a.adapter, a.store, pipeline.ScheduleConfig{
			IngestSpec:     c.IngestCron,
			TrainSpec:      c.TrainCron,
			IngestLookback: c.IngestLookback,
			HorizonDays:    c.Horizon,
		})
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Printf("scheduler: %v", err)
			}
		}()
	} else {
		log.Println("scheduling disabled (--no-schedule)")
	}

	server := api.NewServer(a.store, a.registry, a.adapter, a.runner, c.Port)
	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

type trainCmd struct{}

func (c *trainCmd) Run(a *app) error {
	result, err := a.runner.Run(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("trained %s version %s (model_id=%d)\n", a.cfg.ModelName, result.Version, result.ModelID)
	fmt.Printf("  rows: %d train / %d test\n", result.TrainRows, result.TestRows)
	fmt.Printf("  test_mae=%.3f test_rmse=%.3f test_mape=%.3f cv_mae_mean=%.3f\n",
		result.Metrics["test_mae"], result.Metrics["test_rmse"],
		result.Metrics["test_mape"], result.Metrics["cv_mae_mean"])
	fmt.Printf("  artifact: %s\n", result.ArtifactRef)
	return nil
}

type scoreCmd struct {
	Product  string `help:"Score a single product. Scores all observed pairs when empty."`
	Location string `help:"Score a single location. Requires --product."`
	Days     int    `default:"14" help:"Horizon in days starting tomorrow."`
}

func (c *scoreCmd) Run(a *app) error {
	start := midnight(time.Now().UTC()).AddDate(0, 0, 1)
	end := start.AddDate(0, 0, c.Days-1)

	var groups []models.GroupKey
	if c.Product != "" {
		if c.Location == "" {
			return fmt.Errorf("--location is required with --product")
		}
		groups = []models.GroupKey{{ProductID: c.Product, LocationID: c.Location}}
	} else {
		var err error
		groups, err = a.store.ObservationGroups()
		if err != nil {
			return err
		}
	}

	for _, g := range groups {
		rows, err := a.adapter.GetForecast(g.ProductID, g.LocationID, start, end)
		if err != nil {
			return fmt.Errorf("score %s/%s: %w", g.ProductID, g.LocationID, err)
		}
		fmt.Printf("%s/%s: %d rows\n", g.ProductID, g.LocationID, len(rows))
		for _, row := range rows {
			fmt.Printf("  %s  %8.2f  [%7.2f, %7.2f]  %s\n",
				models.DateKey(row.Date), row.ForecastQuantity,
				row.IntervalLow, row.IntervalHigh, row.ModelVersion)
		}
	}
	return nil
}

type promoteCmd struct {
	Version string `arg:"" help:"Model version to promote, e.g. 20260815_040000."`
	By      string `default:"cli" help:"Recorded as the promoting actor in the audit log."`
}

func (c *promoteCmd) Run(a *app) error {
	result, err := a.registry.Promote(a.cfg.ModelName, c.Version, c.By)
	if err != nil {
		return err
	}
	fmt.Printf("promoted %s %s: %s -> %s\n",
		a.cfg.ModelName, c.Version, result.PreviousStatus, result.NewStatus)
	return nil
}

type seedCmd struct {
	Days      int   `default:"120" help:"Days of history ending yesterday."`
	Products  int   `default:"3" help:"Number of synthetic products."`
	Locations int   `default:"2" help:"Number of synthetic locations."`
	RandSeed  int64 `default:"7" help:"Generator seed, for reproducible datasets."`
}

// Run writes a synthetic demand series per pair: a base level with
// weekly seasonality, a mild upward trend, and gaussian noise. Existing
// rows for the same keys are left untouched.
func (c *seedCmd) Run(a *app) error {
	rng := rand.New(rand.NewSource(c.RandSeed))
	end := midnight(time.Now().UTC()).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(c.Days - 1))

	weekday := []float64{1.0, 0.95, 0.9, 0.95, 1.1, 1.4, 1.3}

	var inserted int
	for p := 1; p <= c.Products; p++ {
		for l := 1; l <= c.Locations; l++ {
			productID := fmt.Sprintf("SKU-%03d", p)
			locationID := fmt.Sprintf("STORE-%02d", l)
			base := 20.0 + 15.0*float64(p) + 8.0*float64(l)

			day := 0
			for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
				season := weekday[(int(d.Weekday())+6)%7]
				trend := 0.05 * float64(day)
				noise := rng.NormFloat64() * base * 0.1

				qty := base*season + trend + noise
				if qty < 0 {
					qty = 0
				}

				wrote, err := a.store.InsertObservation(models.Observation{
					Date:       d,
					ProductID:  productID,
					LocationID: locationID,
					Quantity:   float64(int(qty + 0.5)),
				})
				if err != nil {
					return fmt.Errorf("seed %s/%s %s: %w", productID, locationID, models.DateKey(d), err)
				}
				if wrote {
					inserted++
				}
				day++
			}
		}
	}

	fmt.Printf("seeded %d observations across %d pairs (%s..%s)\n",
		inserted, c.Products*c.Locations, models.DateKey(start), models.DateKey(end))
	return nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
