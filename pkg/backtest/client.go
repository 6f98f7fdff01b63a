// Package backtest provides a Go SDK for the backtest server API: submit
// runs, poll progress, cancel, and read cache statistics.
package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// Client talks to a backtest server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitRequest mirrors the server's job submission body.
type SubmitRequest struct {
	Config        domain.GridConfig `json:"config"`
	SignalsSource string            `json:"signalsSource"`
	Limit         int               `json:"limit,omitempty"`
	Priority      int               `json:"priority,omitempty"`
}

// JobList groups jobs by lifecycle state.
type JobList struct {
	Active    []domain.BacktestJob `json:"active"`
	Queued    []domain.BacktestJob `json:"queued"`
	Completed []domain.BacktestJob `json:"completed"`
}

// CacheStatsResponse mirrors the server's GET /api/cache/stats body.
type CacheStatsResponse struct {
	Ticks   TickCacheStats   `json:"ticks"`
	Results ResultCacheStats `json:"results"`
	Jobs    JobCounts        `json:"jobs"`
}

// TickCacheStats describes the server's in-memory tick cache.
type TickCacheStats struct {
	Entries      int   `json:"entries"`
	TotalTicks   int   `json:"totalTicks"`
	CurrentBytes int64 `json:"currentBytes"`
	MaxBytes     int64 `json:"maxBytes"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
}

// ResultCacheStats describes the server's memoized result cache.
type ResultCacheStats struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

// JobCounts summarizes the scheduler's job sets.
type JobCounts struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
}

// Submit starts a backtest and returns the created job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*domain.BacktestJob, error) {
	var job domain.BacktestJob
	if err := c.do(ctx, http.MethodPost, "/api/backtests", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Job fetches the current state of one job.
func (c *Client) Job(ctx context.Context, id string) (*domain.BacktestJob, error) {
	var job domain.BacktestJob
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Jobs lists active, queued, and completed jobs.
func (c *Client) Jobs(ctx context.Context) (*JobList, error) {
	var list JobList
	if err := c.do(ctx, http.MethodGet, "/api/backtests", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Cancel stops a pending or running job.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/backtests/"+id, nil, nil)
}

// CacheStats reads the server's cache and job statistics.
func (c *Client) CacheStats(ctx context.Context) (*CacheStatsResponse, error) {
	var stats CacheStatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/cache/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// TickStats reads tick coverage for a symbol (server default when empty).
func (c *Client) TickStats(ctx context.Context, symbol string) (*domain.TickStoreStats, error) {
	path := "/api/ticks/stats"
	if symbol != "" {
		path += "?symbol=" + symbol
	}
	var stats domain.TickStoreStats
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WaitForJob polls a job until it reaches a terminal state or ctx expires.
func (c *Client) WaitForJob(ctx context.Context, id string, pollInterval time.Duration) (*domain.BacktestJob, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do issues one API request, encoding body as JSON when non-nil and
// decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
