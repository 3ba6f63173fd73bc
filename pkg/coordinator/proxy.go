package coordinator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// The proxy endpoints let clients behind NAT transfer chunk bytes without
// reaching workers directly. PUT forwards to the first target worker with
// the rest as its fan-out peers; GET round-robins over live replicas.

// ProxyPut forwards an upload body to the first resolvable target worker
// and returns every worker id that acknowledged a copy.
func (c *Coordinator) ProxyPut(ctx context.Context, chunkID string, body io.Reader, size int64, targetNodes []string) (model.ProxyPutResponse, error) {
	if len(targetNodes) == 0 {
		return model.ProxyPutResponse{}, fmt.Errorf("target_nodes is required: %w", errdefs.ErrInvalid)
	}

	urls := c.resolveTargets(targetNodes)
	if len(urls) == 0 {
		return model.ProxyPutResponse{}, fmt.Errorf("no resolvable target workers: %w", errdefs.ErrInvalid)
	}

	resp, err := c.workerClient(urls[0]).PutChunk(ctx, chunkID, body, size, urls[1:])
	if err != nil {
		return model.ProxyPutResponse{}, err
	}
	return model.ProxyPutResponse{Status: resp.Status, Nodes: resp.Nodes}, nil
}

// resolveTargets maps target identifiers to worker base URLs. Targets may
// be worker ids or the worker URLs handed out in an upload plan.
func (c *Coordinator) resolveTargets(targets []string) []string {
	var urls []string
	for _, target := range targets {
		if w, err := c.store.GetWorker(target); err == nil {
			urls = append(urls, w.URL())
			continue
		}
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			urls = append(urls, target)
			continue
		}
		logger.Warn("proxy upload names unknown worker", logger.KeyNodeID, target)
	}
	return urls
}

// ProxyGet opens a chunk download stream from one of the chunk's live
// replicas, rotating the starting replica per request to spread read load.
// Replicas are tried in turn until one serves the bytes.
func (c *Coordinator) ProxyGet(ctx context.Context, chunkID, filePath string) (io.ReadCloser, int64, string, error) {
	file, err := c.Get(filePath)
	if err != nil {
		return nil, 0, "", err
	}

	var rec *model.ChunkRecord
	for i := range file.Chunks {
		if file.Chunks[i].ID == chunkID {
			rec = &file.Chunks[i]
			break
		}
	}
	if rec == nil {
		return nil, 0, "", fmt.Errorf("chunk %s does not belong to %s: %w", chunkID, filePath, errdefs.ErrNotFound)
	}
	if len(rec.Replicas) == 0 {
		return nil, 0, "", fmt.Errorf("chunk %s has no live replicas: %w", chunkID, errdefs.ErrUnreachable)
	}

	start := c.nextProxyOffset(chunkID, len(rec.Replicas))
	var lastErr error
	for k := 0; k < len(rec.Replicas); k++ {
		p := rec.Replicas[(start+k)%len(rec.Replicas)]
		body, size, sum, err := c.workerClient(p.URL).GetChunk(ctx, chunkID)
		if err != nil {
			lastErr = err
			logger.Warn("proxy replica read failed, trying next",
				logger.KeyChunkID, chunkID,
				logger.KeyNodeURL, p.URL,
				logger.KeyError, err.Error())
			continue
		}
		return body, size, sum, nil
	}
	return nil, 0, "", fmt.Errorf("all %d replicas failed: %w", len(rec.Replicas), lastErr)
}

// nextProxyOffset advances the per-chunk round-robin cursor.
func (c *Coordinator) nextProxyOffset(chunkID string, n int) int {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	offset := c.proxyRR[chunkID]
	c.proxyRR[chunkID] = (offset + 1) % n
	return offset % n
}
