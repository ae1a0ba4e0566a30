package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/indigoglass/nexus-forecast/internal/evaluate"
	"github.com/indigoglass/nexus-forecast/internal/models"
	"github.com/indigoglass/nexus-forecast/internal/registry"
	"github.com/indigoglass/nexus-forecast/internal/train"
)

const dateFormat = "2006-01-02"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type forecastPoint struct {
	Date             string  `json:"date"`
	ForecastQuantity float64 `json:"forecast_quantity"`
	IntervalLow      float64 `json:"interval_low"`
	IntervalHigh     float64 `json:"interval_high"`
	ModelVersion     string  `json:"model_version"`
}

type forecastResponse struct {
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	Forecasts  []forecastPoint `json:"forecasts"`
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	locationID := r.URL.Query().Get("location_id")
	if productID == "" || locationID == "" {
		writeError(w, http.StatusBadRequest, "product_id and location_id are required")
		return
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 13)

	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.ParseInLocation(dateFormat, v, time.UTC); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start date")
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.ParseInLocation(dateFormat, v, time.UTC); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end date")
			return
		}
	}

	rows, err := s.adapter.GetForecast(productID, locationID, start, end)
	if err != nil {
		log.Printf("api: get forecast %s/%s: %v", productID, locationID, err)
		writeError(w, http.StatusInternalServerError, "forecast lookup failed")
		return
	}

	resp := forecastResponse{
		ProductID:  productID,
		LocationID: locationID,
		Forecasts:  make([]forecastPoint, 0, len(rows)),
	}
	for _, f := range rows {
		resp.Forecasts = append(resp.Forecasts, forecastPoint{
			Date:             f.Date.Format(dateFormat),
			ForecastQuantity: f.ForecastQuantity,
			IntervalLow:      f.IntervalLow,
			IntervalHigh:     f.IntervalHigh,
			ModelVersion:     f.ModelVersion,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type modelInfo struct {
	ID         int64              `json:"id"`
	ModelName  string             `json:"model_name"`
	Version    string             `json:"version"`
	Algorithm  string             `json:"algorithm"`
	Status     string             `json:"status"`
	Metrics    map[string]float64 `json:"metrics"`
	TrainStart string             `json:"train_start"`
	TrainEnd   string             `json:"train_end"`
	CreatedAt  string             `json:"created_at"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	status := models.ModelStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := s.registry.List(status, limit)
	if err != nil {
		log.Printf("api: list models: %v", err)
		writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}

	out := make([]modelInfo, 0, len(list))
	for _, m := range list {
		out = append(out, modelInfo{
			ID:         m.ID,
			ModelName:  m.ModelName,
			Version:    m.Version,
			Algorithm:  m.Algorithm,
			Status:     string(m.Status),
			Metrics:    m.Metrics,
			TrainStart: m.TrainStart.Format(dateFormat),
			TrainEnd:   m.TrainEnd.Format(dateFormat),
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type promoteRequest struct {
	ModelName  string `json:"model_name"`
	Version    string `json:"version"`
	PromotedBy string `json:"promoted_by"`
}

type promoteResponse struct {
	ModelName      string `json:"model_name"`
	Version        string `json:"version"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	PromotedAt     string `json:"promoted_at"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ModelName == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "model_name and version are required")
		return
	}
	if req.PromotedBy == "" {
		req.PromotedBy = "api"
	}

	result, err := s.registry.Promote(req.ModelName, req.Version, req.PromotedBy)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "model not found")
		return
	case errors.Is(err, registry.ErrAlreadyPromoted):
		writeError(w, http.StatusConflict, "model is already in prod status")
		return
	case errors.Is(err, registry.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent promotion conflict, retry")
		return
	case err != nil:
		log.Printf("api: promote %s/%s: %v", req.ModelName, req.Version, err)
		writeError(w, http.StatusInternalServerError, "promotion failed")
		return
	}

	writeJSON(w, http.StatusOK, promoteResponse{
		ModelName:      req.ModelName,
		Version:        req.Version,
		PreviousStatus: string(result.PreviousStatus),
		NewStatus:      string(result.NewStatus),
		PromotedAt:     result.PromotedAt.Format(time.RFC3339),
	})
}

type trainResponse struct {
	ModelID     int64              `json:"model_id"`
	Version     string             `json:"version"`
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics"`
	TrainRows   int                `json:"train_rows"`
	TestRows    int                `json:"test_rows"`
}

// handleTrain runs one training pass synchronously and registers the
// result as staged. Nightly runs come from the scheduler; this endpoint
// exists for ad-hoc retrains.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.Run(time.Now())
	switch {
	case errors.Is(err, evaluate.ErrInsufficientData), errors.Is(err, train.ErrTooFewSamples):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		log.Printf("api: train: %v", err)
		writeError(w, http.StatusInternalServerError, "training run failed")
		return
	}

	writeJSON(w, http.StatusOK, trainResponse{
		ModelID:     result.ModelID,
		Version:     result.Version,
		ArtifactRef: result.ArtifactRef,
		Metrics:     result.Metrics,
		TrainRows:   result.TrainRows,
		TestRows:    result.TestRows,
	})
}

type assignRequest struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	ModelID    int64  `json:"model_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.LocationID == "" || req.ModelID == 0 {
		writeError(w, http.StatusBadRequest, "product_id, location_id and model_id are required")
		return
	}

	err := s.registry.Assign(req.ProductID, req.LocationID, req.ModelID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "model not found")
		return
	case err != nil:
		log.Printf("api: assign %s/%s -> %d: %v", req.ProductID, req.LocationID, req.ModelID, err)
		writeError(w, http.StatusInternalServerError, "assignment failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type scoreBatchRequest struct {
	HorizonDays int `json:"horizon_days"`
}

type scoreBatchResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleScoreBatch queues a background scoring pass over every
// observed pair. Unassigned pairs produce empty results and are
// skipped.
func (s *Server) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	var req scoreBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HorizonDays <= 0 {
		req.HorizonDays = 14
	}

	jobID := uuid.NewString()[:8]
	go s.runBatchScore(jobID, req.HorizonDays)

	writeJSON(w, http.StatusAccepted, scoreBatchResponse{JobID: jobID, Status: "queued"})
}

func (s *Server) runBatchScore(jobID string, horizonDays int) {
	groups, err := s.store.ObservationGroups()
	if err != nil {
		log.Printf("api: batch %s: list groups: %v", jobID, err)
		return
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	end := start.AddDate(0, 0, horizonDays-1)

	var scored int
	for _, g := range groups {
		rows, err := s.adapter.GetForecast(g.ProductID, g.LocationID, start, end)
		if err != nil {
			log.Printf("api: batch %s: %s/%s: %v", jobID, g.ProductID, g.LocationID, err)
			continue
		}
		if len(rows) > 0 {
			scored++
		}
	}
	log.Printf("api: batch %s complete, scored %d/%d pairs", jobID, scored, len(groups))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
