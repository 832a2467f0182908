// Package store is the HTTP client for the job store the ETL run loads into.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

const (
	apiKeyHeader   = "X-API-Key"
	maxExcerpt     = 512
	defaultTimeout = 10 * time.Second
)

// Config locates the job store.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Record is the store's acknowledgement of a created job.
type Record struct {
	ID        string     `json:"id"`
	JobNumber job.Number `json:"jobNumber"`
}

// Client creates job records.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("store endpoint is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/jobs",
		apiKey:   cfg.APIKey,
		http:     httpClient,
	}, nil
}

// Create posts rec. A 409 is a load_duplicate failure; any other non-2xx response or transport error
// is a load_store failure.
func (c *Client) Create(ctx context.Context, rec job.Normalized) (Record, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal job %s: %w", rec.JobNumber, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("new store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, failure.New(failure.KindLoadStore, "create_job", "store request failed",
			failure.WithURL(c.endpoint), failure.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Record{}, failure.New(failure.KindLoadStore, "create_job", "read store response",
			failure.WithURL(c.endpoint), failure.WithCause(err))
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return Record{}, failure.New(failure.KindLoadDuplicate, "create_job", "job number already stored",
			failure.WithField("jobNumber"), failure.WithRaw(rec.JobNumber.String()), failure.WithURL(c.endpoint))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Record{}, failure.New(failure.KindLoadStore, "create_job",
			fmt.Sprintf("store responded %d", resp.StatusCode),
			failure.WithRaw(excerpt(payload)), failure.WithURL(c.endpoint))
	}

	out := Record{JobNumber: rec.JobNumber}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &out); err != nil {
			return Record{}, failure.New(failure.KindLoadStore, "create_job", "decode store response",
				failure.WithRaw(excerpt(payload)), failure.WithURL(c.endpoint), failure.WithCause(err))
		}
	}
	return out, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxExcerpt {
		return s
	}
	return strings.ToValidUTF8(s[:maxExcerpt], "") + "…"
}
