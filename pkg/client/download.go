package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/internal/telemetry"
	"github.com/driftfs/driftfs/pkg/checksum"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// DownloadFile downloads remotePath into localPath, creating or truncating
// the destination file.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) (model.FileRecord, error) {
	f, err := os.OpenFile(localPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return model.FileRecord{}, fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer f.Close()

	file, err := c.Download(ctx, remotePath, f)
	if err != nil {
		return model.FileRecord{}, err
	}
	if err := f.Sync(); err != nil {
		return model.FileRecord{}, fmt.Errorf("failed to sync %s: %w", localPath, err)
	}
	return file, nil
}

// Download fetches remotePath into dst. Chunks arrive in parallel and land
// at their own offsets, so dst must support positional writes. Every chunk
// is digest-verified against the committed metadata before its bytes count.
func (c *Client) Download(ctx context.Context, remotePath string, dst io.WriterAt) (model.FileRecord, error) {
	ctx, span := telemetry.StartFileSpan(ctx, telemetry.SpanDownload, remotePath)
	defer span.End()

	file, err := c.Stat(ctx, remotePath)
	if err != nil {
		return model.FileRecord{}, err
	}

	chunks := make([]model.ChunkRecord, len(file.Chunks))
	copy(chunks, file.Chunks)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].SeqIndex < chunks[j].SeqIndex })

	offsets := make([]int64, len(chunks))
	var total int64
	for i, chunk := range chunks {
		offsets[i] = total
		total += chunk.Size
	}
	if total != file.Size {
		return model.FileRecord{}, fmt.Errorf("chunk sizes sum to %d, file is %d: %w", total, file.Size, errdefs.ErrCorrupted)
	}

	board := newStrikeBoard()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.DownloadConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := c.downloadChunk(gctx, remotePath, chunk, dst, offsets[i], board); err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.FileRecord{}, err
	}
	return file, nil
}

// downloadChunk fetches one chunk, trying replicas until one serves bytes
// that match the committed digest. Replicas that already failed twice are
// skipped on the first pass and only revisited when nothing else is left.
func (c *Client) downloadChunk(ctx context.Context, remotePath string, chunk model.ChunkRecord, dst io.WriterAt, offset int64, board *strikeBoard) error {
	if c.opts.UseProxy {
		return c.downloadChunkViaProxy(ctx, remotePath, chunk, dst, offset)
	}
	if len(chunk.Replicas) == 0 {
		return fmt.Errorf("chunk %s has no live replicas: %w", chunk.ID, errdefs.ErrUnreachable)
	}

	var lastErr error
	for _, skipStruck := range []bool{true, false} {
		for _, replica := range chunk.Replicas {
			if skipStruck && board.skip(replica.NodeID) {
				continue
			}
			if !skipStruck && !board.skip(replica.NodeID) {
				continue // already tried on the first pass
			}

			err := c.fetchFromReplica(ctx, chunk, replica, dst, offset)
			if err == nil {
				return nil
			}
			lastErr = err
			board.record(replica.NodeID)
			logger.Warn("replica read failed, trying next",
				logger.KeyChunkID, chunk.ID,
				logger.KeyNodeID, replica.NodeID,
				logger.KeyError, err.Error())
		}
	}
	return fmt.Errorf("all %d replicas failed for chunk %s: %w", len(chunk.Replicas), chunk.ID, lastErr)
}

// fetchFromReplica streams one chunk from one worker through digest
// verification into dst.
func (c *Client) fetchFromReplica(ctx context.Context, chunk model.ChunkRecord, replica model.ReplicaPlacement, dst io.WriterAt, offset int64) error {
	body, _, _, err := c.workerClient(replica.URL).GetChunk(ctx, chunk.ID)
	if err != nil {
		return err
	}
	defer body.Close()
	return copyVerified(dst, offset, body, chunk)
}

// downloadChunkViaProxy fetches one chunk through the coordinator, which
// does its own replica failover.
func (c *Client) downloadChunkViaProxy(ctx context.Context, remotePath string, chunk model.ChunkRecord, dst io.WriterAt, offset int64) error {
	body, err := c.proxyGet(ctx, chunk.ID, remotePath)
	if err != nil {
		return err
	}
	defer body.Close()
	return copyVerified(dst, offset, body, chunk)
}

// copyVerified writes a chunk stream at its file offset, failing with
// ErrCorrupted when the bytes do not match the committed digest.
func copyVerified(dst io.WriterAt, offset int64, body io.Reader, chunk model.ChunkRecord) error {
	n, err := io.Copy(io.NewOffsetWriter(dst, offset), checksum.NewVerifyingReader(body, chunk.Checksum))
	if err != nil {
		var mismatch *checksum.MismatchError
		if errors.As(err, &mismatch) {
			return fmt.Errorf("chunk %s: %v: %w", chunk.ID, mismatch, errdefs.ErrCorrupted)
		}
		return err
	}
	if n != chunk.Size {
		return fmt.Errorf("chunk %s: read %d bytes, expected %d: %w", chunk.ID, n, chunk.Size, errdefs.ErrCorrupted)
	}
	return nil
}
