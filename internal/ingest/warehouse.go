// Package ingest pulls daily sales facts from the warehouse feed into
// the local store. Pulls are idempotent: observations key on
// (date, product, location) and completed runs are recorded per
// window, so re-running a window is a no-op.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/indigoglass/nexus-forecast/internal/httputil"
	"github.com/indigoglass/nexus-forecast/internal/metrics"
	"github.com/indigoglass/nexus-forecast/internal/models"
)

// WarehouseClient fetches aggregated sales facts from the warehouse API.
type WarehouseClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewWarehouseClient(baseURL, apiKey string) *WarehouseClient {
	return &WarehouseClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.NewClient(),
	}
}

type salesResponse struct {
	Rows []salesRow `json:"rows"`
}

type salesRow struct {
	Date       string  `json:"date"`
	ProductID  string  `json:"product_id"`
	LocationID string  `json:"location_id"`
	Quantity   float64 `json:"quantity"`
}

// FetchSales returns the per-day sales facts for [start, end]. Rate
// limits and transient server errors are retried with exponential
// backoff; other failures abort immediately.
func (w *WarehouseClient) FetchSales(start, end time.Time) ([]models.Observation, error) {
	url := fmt.Sprintf("%s/api/v1/sales?start=%s&end=%s",
		w.baseURL, models.DateKey(start), models.DateKey(end))

	began := time.Now()
	var body []byte
	operation := func() error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if w.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+w.apiKey)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch sales: %w", err)
		}
		defer resp.Body.Close()

		metrics.WarehouseAPICalls.WithLabelValues("sales", strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("fetch sales: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch sales: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	metrics.WarehouseAPILatency.WithLabelValues("sales").Observe(time.Since(began).Seconds())

	var parsed salesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse sales response: %w", err)
	}

	obs := make([]models.Observation, 0, len(parsed.Rows))
	for _, r := range parsed.Rows {
		date, err := time.ParseInLocation("2006-01-02", r.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse sales date %q: %w", r.Date, err)
		}
		obs = append(obs, models.Observation{
			Date:       date,
			ProductID:  r.ProductID,
			LocationID: r.LocationID,
			Quantity:   r.Quantity,
		})
	}
	return obs, nil
}
