// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// DownloadFile fetches remotePath into localPath, verifying every
// chunk digest end to end.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) (int64, error) {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	n, derr := c.Download(ctx, remotePath, f)
	if cerr := f.Close(); derr == nil {
		derr = cerr
	}
	if derr != nil {
		os.Remove(localPath)
		return 0, derr
	}
	return n, nil
}

// Download fetches every chunk of remotePath in parallel, verifies
// each against its recorded SHA-256, and writes them at their sequence
// offsets. Replicas failing twice are skipped for the remainder.
func (c *Client) Download(ctx context.Context, remotePath string, w io.WriterAt) (int64, error) {
	file, err := c.Stat(ctx, remotePath)
	if err != nil {
		return 0, err
	}

	concurrency := c.cfg.DownloadConcurrency
	if file.Size >= c.cfg.StreamableThreshold {
		// Large transfers trade parallelism for bounded memory.
		concurrency = c.cfg.StreamableConcurrency
	}

	blacklist := newReplicaBlacklist(2)

	// Chunk byte offsets follow sequence order.
	offsets := make([]int64, len(file.Chunks))
	var off int64
	for i := range file.Chunks {
		offsets[file.Chunks[i].SeqIndex] = off
		off += file.Chunks[i].Size
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range file.Chunks {
		chunk := file.Chunks[i]
		g.Go(func() error {
			data, err := c.fetchChunk(gctx, remotePath, &chunk, blacklist)
			if err != nil {
				return fmt.Errorf("chunk %d (%s): %w", chunk.SeqIndex, chunk.ChunkID, err)
			}
			if _, err := w.WriteAt(data, offsets[chunk.SeqIndex]); err != nil {
				return fmt.Errorf("write chunk %d: %w", chunk.SeqIndex, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return file.Size, nil
}

// fetchChunk tries the proxy (when configured) then each live replica
// until one returns bytes matching the recorded digest.
func (c *Client) fetchChunk(ctx context.Context, remotePath string, chunk *types.ChunkRecord, blacklist *replicaBlacklist) ([]byte, error) {
	if c.cfg.UseProxy {
		data, err := c.fetchChunkOnce(ctx, c.proxyChunkURL(remotePath, chunk), chunk)
		if err == nil {
			return data, nil
		}
		logger.Debug().Err(err).Str("chunk_id", chunk.ChunkID.String()).Msg("client: proxy fetch failed, trying replicas")
	}

	if len(chunk.Replicas) == 0 {
		return nil, fmt.Errorf("no live replicas: %w", types.ErrNotFound)
	}

	var lastErr error
	for _, rep := range chunk.Replicas {
		if blacklist.banned(rep.NodeID) {
			continue
		}
		data, err := c.fetchChunkOnce(ctx, rep.URL+"/chunks/"+chunk.ChunkID.String(), chunk)
		if err != nil {
			blacklist.record(rep.NodeID)
			lastErr = err
			logger.Warn().Err(err).
				Str("chunk_id", chunk.ChunkID.String()).
				Str("node_id", rep.NodeID).
				Msg("client: replica fetch failed, failing over")
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("every replica is blacklisted: %w", types.ErrUnreachable)
	}
	return nil, lastErr
}

func (c *Client) proxyChunkURL(remotePath string, chunk *types.ChunkRecord) string {
	return fmt.Sprintf("%s/api/v1/proxy/chunks/%s?file_path=%s",
		c.cfg.BaseURL, chunk.ChunkID, url.QueryEscape(remotePath))
}

// fetchChunkOnce GETs one URL and verifies the digest before handing
// the bytes back.
func (c *Client) fetchChunkOnce(ctx context.Context, getURL string, chunk *types.ChunkRecord) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChunkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	if int64(len(data)) != chunk.Size {
		return nil, fmt.Errorf("got %d bytes, want %d: %w", len(data), chunk.Size, types.ErrCorrupted)
	}
	if digest := utils.Sha256Hex(data); digest != chunk.Checksum {
		return nil, fmt.Errorf("digest %s, want %s: %w", digest, chunk.Checksum, types.ErrCorrupted)
	}
	return data, nil
}
