package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/internal/telemetry"
	"github.com/driftfs/driftfs/pkg/checksum"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
	"github.com/driftfs/driftfs/pkg/retry"
)

// UploadOptions adjusts a single upload.
type UploadOptions struct {
	// Overwrite replaces an existing committed file at the same path.
	Overwrite bool
}

// UploadFile uploads a local file to remotePath.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, opts UploadOptions) (model.CommitResponse, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return model.CommitResponse{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.CommitResponse{}, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	return c.Upload(ctx, f, info.Size(), remotePath, opts)
}

// Upload runs the three-phase upload: init a plan, push every chunk to its
// target workers in parallel, then commit. src must stay readable for the
// whole transfer; chunks are read through section readers so concurrent
// workers and retries never share a cursor.
func (c *Client) Upload(ctx context.Context, src io.ReaderAt, size int64, remotePath string, opts UploadOptions) (model.CommitResponse, error) {
	ctx, span := telemetry.StartFileSpan(ctx, telemetry.SpanUpload, remotePath, telemetry.Size(size))
	defer span.End()

	plan, err := c.UploadInit(ctx, model.UploadInitRequest{
		Path:      remotePath,
		Size:      size,
		Overwrite: opts.Overwrite,
	})
	if err != nil {
		return model.CommitResponse{}, err
	}

	logger.Debug("upload plan received",
		logger.KeyFileID, plan.FileID,
		logger.KeyPath, remotePath,
		logger.KeyChunkCount, len(plan.Chunks),
		logger.KeySize, plan.ChunkSize)

	committed := make([]model.CommitChunk, len(plan.Chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.UploadConcurrency)
	for i, chunk := range plan.Chunks {
		g.Go(func() error {
			offset := int64(i) * plan.ChunkSize
			report, err := c.uploadChunk(gctx, src, offset, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(plan.Chunks), err)
			}
			committed[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.CommitResponse{}, err
	}

	return c.Commit(ctx, model.CommitRequest{
		FileID: plan.FileID,
		Chunks: committed,
	})
}

// uploadChunk pushes one chunk to its planned targets, retrying transient
// failures. The digest is computed once up front; every attempt reads a
// fresh section so a half-consumed body never poisons the next try.
func (c *Client) uploadChunk(ctx context.Context, src io.ReaderAt, offset int64, chunk model.ChunkPlan) (model.CommitChunk, error) {
	if len(chunk.Targets) == 0 {
		return model.CommitChunk{}, fmt.Errorf("plan has no targets for chunk %s: %w", chunk.ChunkID, errdefs.ErrNoCapacity)
	}

	sum, n, err := checksum.SumReader(io.NewSectionReader(src, offset, chunk.Size))
	if err != nil {
		return model.CommitChunk{}, fmt.Errorf("failed to hash chunk %s: %w", chunk.ChunkID, err)
	}
	if n != chunk.Size {
		return model.CommitChunk{}, fmt.Errorf("chunk %s is %d bytes, plan says %d: %w", chunk.ChunkID, n, chunk.Size, errdefs.ErrInvalid)
	}

	var nodes []string
	attempt := 0
	err = retry.Do(ctx, c.opts.Retry, "upload chunk", func(tryCtx context.Context) error {
		body := io.NewSectionReader(src, offset, chunk.Size)

		if c.opts.UseProxy {
			resp, err := c.proxyPut(tryCtx, chunk.ChunkID, body, chunk.Size, chunk.Targets)
			if err != nil {
				attempt++
				return err
			}
			nodes = resp.Nodes
			return nil
		}

		// Rotate the primary across attempts so a single bad worker
		// does not sink the whole chunk.
		primary := chunk.Targets[attempt%len(chunk.Targets)]
		var rest []string
		for _, t := range chunk.Targets {
			if t != primary {
				rest = append(rest, t)
			}
		}
		attempt++

		resp, err := c.workerClient(primary).PutChunk(tryCtx, chunk.ChunkID, body, chunk.Size, rest)
		if err != nil {
			return err
		}
		if resp.Checksum != sum {
			return fmt.Errorf("worker stored digest %s, expected %s: %w", resp.Checksum, sum, errdefs.ErrCorrupted)
		}
		nodes = resp.Nodes
		return nil
	})
	if err != nil {
		return model.CommitChunk{}, err
	}
	if len(nodes) == 0 {
		return model.CommitChunk{}, fmt.Errorf("no worker acknowledged chunk %s: %w", chunk.ChunkID, errdefs.ErrUnreachable)
	}

	return model.CommitChunk{
		ChunkID:  chunk.ChunkID,
		Checksum: sum,
		Nodes:    nodes,
	}, nil
}

// strikeBoard tracks per-replica read failures across one download so every
// chunk benefits from what the others learned.
type strikeBoard struct {
	mu      sync.Mutex
	strikes map[string]int
}

func newStrikeBoard() *strikeBoard {
	return &strikeBoard{strikes: make(map[string]int)}
}

func (b *strikeBoard) record(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strikes[nodeID]++
}

// skip reports whether a replica has failed often enough to be passed over.
func (b *strikeBoard) skip(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strikes[nodeID] >= 2
}
