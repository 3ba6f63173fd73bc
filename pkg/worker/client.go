package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// ChecksumHeader carries the stored SHA-256 digest on chunk downloads.
const ChecksumHeader = "X-Checksum"

// Client talks to one worker's chunk API. Used by the coordinator for
// repair, rebalance, and garbage collection, and by the file client for
// direct chunk transfer.
//
// No global timeout is set on the underlying http.Client: chunk transfers
// can legitimately run for minutes and are bounded by the request context.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the worker at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// BaseURL returns the worker base URL this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PutChunk streams body to the worker under chunkID. When replicateTo is
// non-empty the worker fans the chunk out to those peers and reports every
// worker that ended up holding a copy.
func (c *Client) PutChunk(ctx context.Context, chunkID string, body io.Reader, size int64, replicateTo []string) (model.PutChunkResponse, error) {
	u := c.baseURL + "/chunks/" + url.PathEscape(chunkID)
	if len(replicateTo) > 0 {
		u += "?replicate_to=" + url.QueryEscape(strings.Join(replicateTo, "|"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return model.PutChunkResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	var out model.PutChunkResponse
	if err := c.doJSON(req, &out); err != nil {
		return model.PutChunkResponse{}, err
	}
	return out, nil
}

// GetChunk opens a verified download stream for a chunk. The caller owns the
// returned body and must close it.
func (c *Client) GetChunk(ctx context.Context, chunkID string) (io.ReadCloser, int64, string, error) {
	u := c.baseURL + "/chunks/" + url.PathEscape(chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("worker %s: %v: %w", c.baseURL, err, errdefs.ErrUnreachable)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, 0, "", api.DecodeError(resp.StatusCode, body)
	}

	size := resp.ContentLength
	if cl := resp.Header.Get("Content-Length"); size < 0 && cl != "" {
		size, _ = strconv.ParseInt(cl, 10, 64)
	}
	return resp.Body, size, resp.Header.Get(ChecksumHeader), nil
}

// DeleteChunk removes a chunk from the worker. Deleting a missing chunk
// succeeds.
func (c *Client) DeleteChunk(ctx context.Context, chunkID string) error {
	u := c.baseURL + "/chunks/" + url.PathEscape(chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doJSON(req, nil)
}

// Replicate asks the worker to push its copy of a chunk to another worker.
func (c *Client) Replicate(ctx context.Context, chunkID, destinationURL string) (model.ReplicateResponse, error) {
	u := c.baseURL + "/chunks/" + url.PathEscape(chunkID) + "/replicate"
	payload, err := json.Marshal(model.ReplicateRequest{DestinationURL: destinationURL})
	if err != nil {
		return model.ReplicateResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return model.ReplicateResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out model.ReplicateResponse
	if err := c.doJSON(req, &out); err != nil {
		return model.ReplicateResponse{}, err
	}
	return out, nil
}

// Health fetches the worker's health summary.
func (c *Client) Health(ctx context.Context) (model.WorkerHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return model.WorkerHealth{}, fmt.Errorf("failed to create request: %w", err)
	}

	var out model.WorkerHealth
	if err := c.doJSON(req, &out); err != nil {
		return model.WorkerHealth{}, err
	}
	return out, nil
}

// doJSON executes the request and decodes a JSON response into result.
// Transport failures are classified as unreachable so callers can retry or
// fail over.
func (c *Client) doJSON(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker %s: %v: %w", c.baseURL, err, errdefs.ErrUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return api.DecodeError(resp.StatusCode, body)
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
