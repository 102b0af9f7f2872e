// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"

	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("worker: encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrNoSpace):
		status = http.StatusInsufficientStorage
	case errors.Is(err, types.ErrCorrupted):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Kind: types.ErrorKind(err)})
}

func parseChunkID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("chunk_id"))
}

// putChunk stores the body and, when replicate_to is set, fans the
// chunk out to each listed peer in parallel. Peer failures are reported
// in the response but never fail the call: the local write is the
// durability floor and the repair loop heals missing copies.
func (s *Server) putChunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseChunkID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunk id"})
		return
	}

	meta, err := s.store.Put(id, r.Body)
	if err != nil {
		chunkWriteOps.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	chunkWriteOps.WithLabelValues("success").Inc()

	nodes := []string{s.cfg.NodeID}
	if raw := r.URL.Query().Get("replicate_to"); raw != "" {
		peers := strings.Split(raw, "|")
		nodes = append(nodes, s.fanOut(r.Context(), id, peers)...)
	}

	writeJSON(w, http.StatusOK, types.ChunkPutResponse{
		Status:   "stored",
		ChunkID:  id,
		Size:     meta.Size,
		Checksum: meta.Checksum,
		NodeID:   s.cfg.NodeID,
		Nodes:    nodes,
	})
}

// fanOut re-streams the freshly stored chunk to each peer PUT endpoint
// concurrently and returns the node ids that acknowledged.
func (s *Server) fanOut(ctx context.Context, id uuid.UUID, peers []string) []string {
	var (
		mu   sync.Mutex
		acks []string
		wg   sync.WaitGroup
	)
	for _, peer := range peers {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			continue
		}
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			nodeID, err := s.sendChunk(ctx, id, peer)
			if err != nil {
				replicationsOut.WithLabelValues("error").Inc()
				logger.Warn().Err(err).
					Str("chunk_id", id.String()).
					Str("peer", peer).
					Msg("worker: fan-out to peer failed")
				return
			}
			replicationsOut.WithLabelValues("success").Inc()
			mu.Lock()
			acks = append(acks, nodeID)
			mu.Unlock()
		}(peer)
	}
	wg.Wait()
	return acks
}

// sendChunk PUTs a locally held chunk to a peer base URL and returns
// the peer's node id. Used for both fan-out and coordinator-driven
// replication.
func (s *Server) sendChunk(ctx context.Context, id uuid.UUID, baseURL string) (string, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	var nodeID string
	policy := utils.RetryPolicy{
		MaxAttempts: 3,
		Base:        time.Second,
		Factor:      2,
		IsRetriable: isTransient,
	}
	err := utils.Retry(ctx, policy, func(ctx context.Context) error {
		rc, meta, err := s.store.Open(id)
		if err != nil {
			return err
		}
		defer rc.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, baseURL+"/chunks/"+id.String(), rc)
		if err != nil {
			return err
		}
		req.ContentLength = meta.Size

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("peer returned %d: %s", resp.StatusCode, string(body))
		}

		var put types.ChunkPutResponse
		if err := json.NewDecoder(resp.Body).Decode(&put); err != nil {
			return err
		}
		if put.Checksum != meta.Checksum {
			return fmt.Errorf("peer stored digest %s, expected %s: %w", put.Checksum, meta.Checksum, types.ErrCorrupted)
		}
		nodeID = put.NodeID
		return nil
	})
	if err != nil {
		return "", err
	}
	if nodeID == "" {
		nodeID = baseURL
	}
	return nodeID, nil
}

// isTransient marks errors worth retrying: connectivity and 5xx-class
// failures. Local store errors fail fast.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrNoSpace),
		errors.Is(err, types.ErrCorrupted):
		return false
	}
	return true
}

// listChunks is the admin/debug view of the inventory cache.
func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	inv := s.store.Inventory()
	if inv == nil {
		inv = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":   s.cfg.NodeID,
		"chunk_ids": inv,
	})
}

func (s *Server) getChunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseChunkID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunk id"})
		return
	}

	rc, meta, err := s.store.Open(id)
	if err != nil {
		chunkReadOps.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("X-Checksum", meta.Checksum)
	w.Header().Set("X-Chunk-ID", id.String())
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	if err != nil {
		// Headers are gone; aborting the copy truncates the body, which
		// the reader's own digest check catches.
		chunkReadOps.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Str("chunk_id", id.String()).Msg("worker: chunk stream aborted")
		return
	}
	chunkReadOps.WithLabelValues("success").Inc()
	chunkReadBytes.Add(float64(n))
}

func (s *Server) deleteChunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseChunkID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunk id"})
		return
	}

	if err := s.store.Delete(id); err != nil {
		chunkDeleteOps.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	chunkDeleteOps.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, types.ChunkDeleteResponse{Status: "deleted", ChunkID: id})
}

// replicate serves the coordinator's repair loop: this worker reads its
// local copy and pushes it to the destination.
func (s *Server) replicate(w http.ResponseWriter, r *http.Request) {
	var req types.ReplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ChunkID == uuid.Nil || req.DestinationURL == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "chunk_id and destination_url required"})
		return
	}

	nodeID, err := s.sendChunk(r.Context(), req.ChunkID, req.DestinationURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReplicateResponse{
		Status:  "replicated",
		ChunkID: req.ChunkID,
		Nodes:   []string{s.cfg.NodeID, nodeID},
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	free, total, err := utils.DiskUsage(s.cfg.StoragePath)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: disk usage probe failed")
	}
	count, _ := s.store.Stats()
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Details: map[string]any{
			"node_id":     s.cfg.NodeID,
			"free_space":  free,
			"total_space": total,
			"chunk_count": count,
		},
	})
}
