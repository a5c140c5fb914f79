// Package machinefi is the REST client for the external live-stream
// monitoring service that watches a video feed for a trigger condition and
// calls back over a webhook when it fires.
package machinefi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Monitor is the service surface the settlement tracker uses; tests
// substitute a fake.
type Monitor interface {
	// StartMonitor registers a watch on streamURL for condition and
	// returns the service-assigned job id. Trigger callbacks arrive at
	// webhookURL.
	StartMonitor(ctx context.Context, streamURL, condition, webhookURL string) (string, error)
	// StopJob cancels a watch. Stopping a job the service no longer knows
	// about succeeds.
	StopJob(ctx context.Context, jobID string) error
}

// Client is the REST client for the monitoring service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a monitoring-service client rooted at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StartMonitor registers a new watch job.
func (c *Client) StartMonitor(ctx context.Context, streamURL, condition, webhookURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"stream_url":  streamURL,
		"condition":   condition,
		"webhook_url": webhookURL,
	})
	if err != nil {
		return "", fmt.Errorf("machinefi: encode request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/jobs", payload)
	if err != nil {
		return "", fmt.Errorf("machinefi: start monitor: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("machinefi: start monitor status %d: %s", status, truncate(body, 200))
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("machinefi: decode job: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("machinefi: service returned empty job id")
	}
	return resp.JobID, nil
}

// StopJob cancels a watch job. A 404 from the service means the job is
// already gone, which counts as success: the tracker stops jobs from both
// the webhook and the sweep path and must tolerate the other side winning.
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	body, status, err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return fmt.Errorf("machinefi: stop job %s: %w", jobID, err)
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("machinefi: stop job %s status %d: %s", jobID, status, truncate(body, 200))
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return out, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
