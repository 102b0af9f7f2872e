// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the DriftFS transfer client: three-phase
// chunked uploads, parallel verified downloads, and the metadata
// convenience calls the CLI is built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
)

// Config tunes a Client. Zero values fall back to the defaults below.
type Config struct {
	// BaseURL is the coordinator, e.g. "http://localhost:8000".
	BaseURL string

	HTTPClient *http.Client

	// UploadConcurrency bounds parallel chunk PUTs per upload.
	UploadConcurrency int

	// DownloadConcurrency bounds parallel chunk GETs per download.
	DownloadConcurrency int

	// StreamableThreshold caps memory on big downloads: files at or
	// above this size fetch with StreamableConcurrency instead.
	StreamableThreshold   int64
	StreamableConcurrency int

	// ChunkTimeout is the per-attempt deadline for one chunk transfer.
	ChunkTimeout time.Duration

	// Retry drives per-chunk retries with exponential backoff.
	Retry utils.RetryPolicy

	// UseProxy routes chunk bytes through the coordinator instead of
	// touching workers directly. Direct transfer is the fast path for
	// server-side clients; the proxy is for clients behind NAT.
	UseProxy bool
}

const (
	defaultUploadConcurrency     = 4
	defaultDownloadConcurrency   = 8
	defaultStreamableConcurrency = 3
	defaultStreamableThreshold   = 512 * 1024 * 1024
	defaultChunkTimeout          = 120 * time.Second
)

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = defaultUploadConcurrency
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = defaultDownloadConcurrency
	}
	if cfg.StreamableConcurrency <= 0 {
		cfg.StreamableConcurrency = defaultStreamableConcurrency
	}
	if cfg.StreamableThreshold <= 0 {
		cfg.StreamableThreshold = defaultStreamableThreshold
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaultChunkTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = utils.RetryPolicy{MaxAttempts: 4, Base: time.Second, Factor: 2}
	}
	cfg.Retry.IsRetriable = isRetriable
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: cfg.HTTPClient}
}

// isRetriable: connectivity and server-side hiccups retry; semantic
// rejections fail fast.
func isRetriable(err error) bool {
	switch {
	case errors.Is(err, types.ErrPathConflict),
		errors.Is(err, types.ErrSessionExpired),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrNoCapacity):
		return false
	}
	return true
}

// apiError converts a non-2xx response into a typed error using the
// error payload's kind tag.
func apiError(resp *http.Response) error {
	var payload types.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	msg := payload.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	var kind error
	switch payload.Kind {
	case "path-conflict":
		kind = types.ErrPathConflict
	case "no-capacity":
		kind = types.ErrNoCapacity
	case "no-space":
		kind = types.ErrNoSpace
	case "corrupted":
		kind = types.ErrCorrupted
	case "session-expired":
		kind = types.ErrSessionExpired
	case "not-found":
		kind = types.ErrNotFound
	case "lease-held":
		kind = types.ErrLeaseHeld
	default:
		switch resp.StatusCode {
		case http.StatusNotFound:
			kind = types.ErrNotFound
		case http.StatusConflict:
			kind = types.ErrPathConflict
		case http.StatusServiceUnavailable:
			kind = types.ErrNoCapacity
		}
	}
	if kind != nil {
		return fmt.Errorf("%s (status %d): %w", msg, resp.StatusCode, kind)
	}
	return fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
}

// doJSON performs one JSON round trip against the coordinator.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// filesPath builds /api/v1/files/<escaped path> for get and delete.
func filesPath(remotePath string) string {
	return "/api/v1/files/" + url.PathEscape(remotePath)
}

// Stat fetches the record for one path, with live replicas only.
func (c *Client) Stat(ctx context.Context, remotePath string) (*types.FileRecord, error) {
	var file types.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, filesPath(remotePath), nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// List returns published records under prefix.
func (c *Client) List(ctx context.Context, prefix string, limit, offset int) ([]*types.FileRecord, error) {
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

	var files []*types.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Delete removes a path; permanent skips the soft-delete grace period.
func (c *Client) Delete(ctx context.Context, remotePath string, permanent bool) error {
	path := filesPath(remotePath)
	if permanent {
		path += "?permanent=true"
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Nodes lists the coordinator's worker registry.
func (c *Client) Nodes(ctx context.Context) ([]*types.NodeInfo, error) {
	var nodes []*types.NodeInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Health probes the coordinator.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stats fetches the aggregate system view.
func (c *Client) Stats(ctx context.Context) (*types.SystemStats, error) {
	var stats types.SystemStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// replicaBlacklist tracks replicas that keep failing during one
// download; two strikes and the replica sits out the rest of it.
type replicaBlacklist struct {
	mu      sync.Mutex
	fails   map[string]int
	strikes int
}

func newReplicaBlacklist(strikes int) *replicaBlacklist {
	return &replicaBlacklist{fails: make(map[string]int), strikes: strikes}
}

func (b *replicaBlacklist) record(nodeID string) {
	b.mu.Lock()
	b.fails[nodeID]++
	b.mu.Unlock()
}

func (b *replicaBlacklist) banned(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails[nodeID] >= b.strikes
}
