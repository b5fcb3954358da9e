// Package remote provides the client for the remote sync endpoint.
//
// The sync engine only sees this narrow contract: per-entity
// create/update/delete calls that classify their outcome, a bulk merge
// upload, and a delta pull. The server behind it is an external
// collaborator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

// Endpoint is the remote authority consumed by the sync orchestrator.
type Endpoint interface {
	Create(ctx context.Context, storeName string, payload json.RawMessage) models.SyncResult
	Update(ctx context.Context, storeName string, id models.UUID, payload json.RawMessage) models.SyncResult
	Delete(ctx context.Context, storeName string, id models.UUID) models.SyncResult

	// Upload pushes local records for server-side merge.
	Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error)

	// Pull fetches remote changes since lastSync.
	Pull(ctx context.Context, lastSync time.Time) (*PullResponse, error)
}

// UploadRequest is the bulk reconciliation payload.
type UploadRequest struct {
	StoreRecords map[string][]*models.Record `json:"store_records"`
	ClientTime   int64                       `json:"client_time"` // unix millis
}

// UploadResponse is the server's merge outcome.
type UploadResponse struct {
	MergedCount int            `json:"merged_count"`
	ServerTime  int64          `json:"server_time"`
	ItemCounts  map[string]int `json:"item_counts"`
}

// PullResponse carries remote state newer than the client's lastSync.
type PullResponse struct {
	StoreRecords map[string][]*models.Record `json:"store_records"`
	ServerTime   int64                       `json:"server_time"`
	HasChanges   bool                        `json:"has_changes"`
}

// Client is the HTTP implementation of Endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL. The per-call
// deadline comes from the caller's context; the embedded client
// carries no timeout of its own.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Create issues POST /api/{store}.
func (c *Client) Create(ctx context.Context, storeName string, payload json.RawMessage) models.SyncResult {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/%s", url.PathEscape(storeName)), payload)
}

// Update issues PUT /api/{store}/{id}.
func (c *Client) Update(ctx context.Context, storeName string, id models.UUID, payload json.RawMessage) models.SyncResult {
	return c.do(ctx, http.MethodPut,
		fmt.Sprintf("/api/%s/%s", url.PathEscape(storeName), url.PathEscape(string(id))), payload)
}

// Delete issues DELETE /api/{store}/{id}.
func (c *Client) Delete(ctx context.Context, storeName string, id models.UUID) models.SyncResult {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/%s/%s", url.PathEscape(storeName), url.PathEscape(string(id))), nil)
}

// do executes one entity call and classifies the outcome:
// 2xx success, 4xx non-retryable, anything else (5xx, transport
// failure, cancellation, timeout) retryable.
func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage) models.SyncResult {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return models.SyncResult{Retryable: false, Error: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures and context deadlines are retryable.
		return models.SyncResult{Retryable: true, Error: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return Classify(resp.StatusCode)
}

// Classify maps an HTTP-like status to a SyncResult.
func Classify(status int) models.SyncResult {
	switch {
	case status >= 200 && status < 300:
		return models.SyncResult{Success: true, StatusCode: status}
	case status >= 400 && status < 500:
		return models.SyncResult{Retryable: false, StatusCode: status,
			Error: fmt.Sprintf("rejected with status %d", status)}
	default:
		return models.SyncResult{Retryable: true, StatusCode: status,
			Error: fmt.Sprintf("remote failure with status %d", status)}
	}
}

// Upload issues POST /api/sync/upload.
func (c *Client) Upload(ctx context.Context, upload *UploadRequest) (*UploadResponse, error) {
	body, err := json.Marshal(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/upload", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &out, nil
}

// Pull issues GET /api/sync/data?lastSync=<millis>.
func (c *Client) Pull(ctx context.Context, lastSync time.Time) (*PullResponse, error) {
	u := c.baseURL + "/api/sync/data?lastSync=" + strconv.FormatInt(lastSync.UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pull rejected with status %d", resp.StatusCode)
	}

	var out PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}
	return &out, nil
}
