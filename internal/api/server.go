// Package api exposes the pipeline's own HTTP surface: forecast
// retrieval, registry listing, promotion, assignment, and batch
// scoring. The wider dashboard API lives elsewhere; this service only
// covers pipeline operations.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indigoglass/nexus-forecast/internal/pipeline"
	"github.com/indigoglass/nexus-forecast/internal/registry"
	"github.com/indigoglass/nexus-forecast/internal/serving"
	"github.com/indigoglass/nexus-forecast/internal/store"
)

type Server struct {
	store    *store.Store
	registry *registry.Registry
	adapter  *serving.Adapter
	runner   *pipeline.Runner
	port     string
}

func NewServer(st *store.Store, reg *registry.Registry, adapter *serving.Adapter, runner *pipeline.Runner, port string) *Server {
	return &Server{
		store:    st,
		registry: reg,
		adapter:  adapter,
		runner:   runner,
		port:     port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/forecast", s.handleGetForecast)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models/promote", s.handlePromote)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/assignments", s.handleAssign)
	mux.HandleFunc("POST /api/score-batch", s.handleScoreBatch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
