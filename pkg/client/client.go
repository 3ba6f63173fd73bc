// Package client is the Go client library: three-phase chunked upload,
// parallel verified download with replica failover, and the coordinator's
// metadata operations.
package client

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
	"sync"
	"time"

	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
	"github.com/driftfs/driftfs/pkg/retry"
	"github.com/driftfs/driftfs/pkg/worker"
)

// Options tunes transfer behavior. The zero value is usable through
// DefaultOptions.
type Options struct {
	// UploadConcurrency bounds parallel chunk PUTs per upload.
	UploadConcurrency int
	// DownloadConcurrency bounds parallel chunk GETs per download.
	DownloadConcurrency int
	// UseProxy routes chunk bytes through the coordinator instead of
	// addressing workers directly. Required for clients behind NAT.
	UseProxy bool
	// Retry governs per-chunk transfer retries.
	Retry retry.Policy
}

// DefaultOptions returns the recommended transfer settings.
func DefaultOptions() Options {
	return Options{
		UploadConcurrency:   4,
		DownloadConcurrency: 8,
		Retry:               retry.DefaultTransfer(),
	}
}

// Client talks to one coordinator.
type Client struct {
	baseURL string
	opts    Options

	// httpClient serves metadata calls. Chunk transfers go through worker
	// clients or the proxy helpers, which are bounded by context instead.
	httpClient *http.Client

	workersMu sync.Mutex
	workers   map[string]*worker.Client
}

// New creates a client with default options.
func New(baseURL string) *Client {
	return NewWithOptions(baseURL, DefaultOptions())
}

// NewWithOptions creates a client with explicit transfer settings. Zero
// fields fall back to the defaults.
func NewWithOptions(baseURL string, opts Options) *Client {
	def := DefaultOptions()
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = def.UploadConcurrency
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = def.DownloadConcurrency
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = def.Retry
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		workers: make(map[string]*worker.Client),
	}
}

// workerClient returns a cached chunk client for a worker base URL.
func (c *Client) workerClient(baseURL string) *worker.Client {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	wc, ok := c.workers[baseURL]
	if !ok {
		wc = worker.NewClient(baseURL)
		c.workers[baseURL] = wc
	}
	return wc
}

// ============================================================================
// Metadata operations
// ============================================================================

// UploadInit opens an upload session for path and size.
func (c *Client) UploadInit(ctx context.Context, req model.UploadInitRequest) (model.UploadPlan, error) {
	var plan model.UploadPlan
	err := c.post(ctx, "/api/v1/files/upload-init", req, &plan)
	return plan, err
}

// Commit publishes an upload session.
func (c *Client) Commit(ctx context.Context, req model.CommitRequest) (model.CommitResponse, error) {
	var resp model.CommitResponse
	err := c.post(ctx, "/api/v1/files/commit", req, &resp)
	return resp, err
}

// List returns committed files under prefix.
func (c *Client) List(ctx context.Context, prefix string, limit, offset int) ([]model.FileRecord, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var files []model.FileRecord
	err := c.get(ctx, path, &files)
	return files, err
}

// Stat returns the file record at path with its live replicas.
func (c *Client) Stat(ctx context.Context, path string) (model.FileRecord, error) {
	var file model.FileRecord
	err := c.get(ctx, "/api/v1/files/"+url.PathEscape(path), &file)
	return file, err
}

// Delete removes the file at path: a soft delete by default, immediate
// chunk removal with permanent set.
func (c *Client) Delete(ctx context.Context, path string, permanent bool) (model.DeleteResponse, error) {
	target := "/api/v1/files/" + url.PathEscape(path)
	if permanent {
		target += "?permanent=true"
	}
	var resp model.DeleteResponse
	err := c.do(ctx, http.MethodDelete, target, nil, &resp)
	return resp, err
}

// Nodes returns every registered worker.
func (c *Client) Nodes(ctx context.Context) ([]model.WorkerRecord, error) {
	var nodes []model.WorkerRecord
	err := c.get(ctx, "/api/v1/nodes", &nodes)
	return nodes, err
}

// Node returns one worker.
func (c *Client) Node(ctx context.Context, nodeID string) (model.WorkerRecord, error) {
	var node model.WorkerRecord
	err := c.get(ctx, "/api/v1/nodes/"+url.PathEscape(nodeID), &node)
	return node, err
}

// Health returns the coordinator health summary.
func (c *Client) Health(ctx context.Context) (model.HealthResponse, error) {
	var resp model.HealthResponse
	err := c.get(ctx, "/api/v1/health", &resp)
	return resp, err
}

// Stats returns cluster-wide counters.
func (c *Client) Stats(ctx context.Context) (model.SystemStats, error) {
	var stats model.SystemStats
	err := c.get(ctx, "/api/v1/stats", &stats)
	return stats, err
}

// AcquireLease requests an exclusive write lease on a path.
func (c *Client) AcquireLease(ctx context.Context, req model.LeaseAcquireRequest) (model.Lease, error) {
	var lease model.Lease
	err := c.post(ctx, "/api/v1/leases/acquire", req, &lease)
	return lease, err
}

// ReleaseLease gives a lease back.
func (c *Client) ReleaseLease(ctx context.Context, leaseID string) error {
	return c.post(ctx, "/api/v1/leases/release", model.LeaseReleaseRequest{LeaseID: leaseID}, nil)
}

// ============================================================================
// Proxy chunk transfer
// ============================================================================

// proxyPut streams a chunk body through the coordinator to the target set.
func (c *Client) proxyPut(ctx context.Context, chunkID string, body io.Reader, size int64, targets []string) (model.ProxyPutResponse, error) {
	u := c.baseURL + "/api/v1/proxy/chunks/" + url.PathEscape(chunkID) +
		"?target_nodes=" + url.QueryEscape(strings.Join(targets, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return model.ProxyPutResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	// Transfers bypass the metadata client so its timeout does not cut
	// long streams short.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return model.ProxyPutResponse{}, fmt.Errorf("coordinator proxy: %v: %w", err, errdefs.ErrUnreachable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ProxyPutResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return model.ProxyPutResponse{}, api.DecodeError(resp.StatusCode, data)
	}

	var out model.ProxyPutResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return model.ProxyPutResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// proxyGet opens a chunk stream through the coordinator.
func (c *Client) proxyGet(ctx context.Context, chunkID, filePath string) (io.ReadCloser, error) {
	u := c.baseURL + "/api/v1/proxy/chunks/" + url.PathEscape(chunkID) +
		"?file_path=" + url.QueryEscape(filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("coordinator proxy: %v: %w", err, errdefs.ErrUnreachable)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, api.DecodeError(resp.StatusCode, data)
	}
	return resp.Body, nil
}

// ============================================================================
// HTTP plumbing
// ============================================================================

// do performs a JSON request against the coordinator and decodes the
// response. Error payloads are turned back into classified errors.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator %s: %v: %w", c.baseURL, err, errdefs.ErrUnreachable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return api.DecodeError(resp.StatusCode, data)
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}
