// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// UploadOptions carries the optional upload-init fields.
type UploadOptions struct {
	Overwrite    bool
	Compressed   bool
	OriginalSize int64
}

// UploadResult reports a committed upload.
type UploadResult struct {
	FileID    uuid.UUID
	Path      string
	Size      int64
	ChunkSize int64
	Chunks    int
}

// UploadFile uploads a local file to remotePath.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, opts UploadOptions) (*UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, remotePath, f, info.Size(), opts)
}

// Upload runs the three-phase protocol: init, stream every chunk in a
// bounded pool with retries, then commit. The coordinator's returned
// chunk size is authoritative for slicing. On an unrecoverable chunk
// failure the session is abandoned for the coordinator to time out.
func (c *Client) Upload(ctx context.Context, remotePath string, content io.ReaderAt, size int64, opts UploadOptions) (*UploadResult, error) {
	initReq := types.UploadInitRequest{
		Path:         remotePath,
		Size:         size,
		Overwrite:    opts.Overwrite,
		Compressed:   opts.Compressed,
		OriginalSize: opts.OriginalSize,
	}
	var plan types.UploadInitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/files/upload-init", &initReq, &plan); err != nil {
		return nil, fmt.Errorf("upload-init %s: %w", remotePath, err)
	}

	commitChunks := make([]types.ChunkCommitInfo, len(plan.Chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.UploadConcurrency)
	for i, chunk := range plan.Chunks {
		g.Go(func() error {
			offset := int64(i) * plan.ChunkSize
			buf := make([]byte, chunk.Size)
			if _, err := content.ReadAt(buf, offset); err != nil && err != io.EOF {
				return fmt.Errorf("read chunk %d: %w", i, err)
			}

			// Hash once, outside the retry loop.
			checksum := utils.Sha256Hex(buf)

			info, err := c.putChunk(gctx, chunk, buf, checksum)
			if err != nil {
				return fmt.Errorf("upload chunk %d (%s): %w", i, chunk.ChunkID, err)
			}
			commitChunks[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Abandoned: the provisional record times out server-side.
		logger.Warn().Err(err).Str("path", remotePath).Msg("client: upload abandoned")
		return nil, err
	}

	commitReq := types.CommitRequest{FileID: plan.FileID, Chunks: commitChunks}
	var commitResp types.CommitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/files/commit", &commitReq, &commitResp); err != nil {
		return nil, fmt.Errorf("commit %s: %w", remotePath, err)
	}

	return &UploadResult{
		FileID:    plan.FileID,
		Path:      remotePath,
		Size:      size,
		ChunkSize: plan.ChunkSize,
		Chunks:    len(plan.Chunks),
	}, nil
}

// putChunk delivers one chunk, retrying transient failures with fresh
// bytes; chunks are the unit of retry, there is no partial resume.
func (c *Client) putChunk(ctx context.Context, chunk types.SessionChunk, data []byte, checksum string) (*types.ChunkCommitInfo, error) {
	var nodes []string
	err := utils.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ChunkTimeout)
		defer cancel()

		var err error
		if c.cfg.UseProxy {
			nodes, err = c.putChunkProxy(attemptCtx, chunk, data)
		} else {
			nodes, err = c.putChunkDirect(attemptCtx, chunk, data)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("chunk %s: no worker acknowledged the write", chunk.ChunkID)
	}
	return &types.ChunkCommitInfo{ChunkID: chunk.ChunkID, Checksum: checksum, Nodes: nodes}, nil
}

// putChunkDirect PUTs to the primary target, which pipelines to its
// peers via replicate_to.
func (c *Client) putChunkDirect(ctx context.Context, chunk types.SessionChunk, data []byte) ([]string, error) {
	if len(chunk.Targets) == 0 {
		return nil, fmt.Errorf("chunk %s has no targets", chunk.ChunkID)
	}

	putURL := strings.TrimSuffix(chunk.Targets[0], "/") + "/chunks/" + chunk.ChunkID.String()
	if len(chunk.Targets) > 1 {
		putURL += "?replicate_to=" + url.QueryEscape(strings.Join(chunk.Targets[1:], "|"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp)
	}

	var put types.ChunkPutResponse
	if err := decodeJSON(resp.Body, &put); err != nil {
		return nil, err
	}
	return put.Nodes, nil
}

// putChunkProxy routes the chunk through the coordinator, which fans
// out to the target workers.
func (c *Client) putChunkProxy(ctx context.Context, chunk types.SessionChunk, data []byte) ([]string, error) {
	putURL := fmt.Sprintf("%s/api/v1/proxy/chunks/%s?target_nodes=%s",
		c.cfg.BaseURL, chunk.ChunkID, url.QueryEscape(strings.Join(chunk.Targets, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp)
	}

	var put types.ChunkPutResponse
	if err := decodeJSON(resp.Body, &put); err != nil {
		return nil, err
	}
	return put.Nodes, nil
}
