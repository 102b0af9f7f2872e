// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// The proxy endpoints let clients behind NAT move chunk bytes without
// reaching workers directly. Uploads are forwarded to the first target
// worker, which pipelines to its peers; downloads pick a live replica
// by round-robin and stream it back.

func (s *Server) proxyPut(w http.ResponseWriter, r *http.Request) {
	chunkID, err := uuid.Parse(r.PathValue("chunk_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunk id"})
		return
	}
	targetParam := r.URL.Query().Get("target_nodes")
	if targetParam == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "target_nodes required"})
		return
	}

	var targets []*types.NodeInfo
	for _, token := range strings.Split(targetParam, ",") {
		node := s.resolveNode(strings.TrimSpace(token))
		if node == nil {
			logger.Warn().Str("target", token).Msg("coordinator: proxy target unknown, skipped")
			continue
		}
		targets = append(targets, node)
	}
	if len(targets) == 0 {
		proxyTransfers.WithLabelValues("upload", "error").Inc()
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "no reachable target nodes", Kind: "not-found"})
		return
	}

	body, size, err := proxyBody(r)
	if err != nil {
		proxyTransfers.WithLabelValues("upload", "error").Inc()
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	defer body.Close()

	primary := targets[0]
	putURL := primary.URL() + "/chunks/" + chunkID.String()
	if len(targets) > 1 {
		peers := make([]string, 0, len(targets)-1)
		for _, t := range targets[1:] {
			peers = append(peers, t.URL())
		}
		putURL += "?replicate_to=" + strings.Join(peers, "|")
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPut, putURL, body)
	if err != nil {
		proxyTransfers.WithLabelValues("upload", "error").Inc()
		writeError(w, err)
		return
	}
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := s.client.Do(req)
	if err != nil {
		proxyTransfers.WithLabelValues("upload", "error").Inc()
		writeError(w, fmt.Errorf("%w: %v", types.ErrUnreachable, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		proxyTransfers.WithLabelValues("upload", "error").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		io.Copy(w, resp.Body)
		return
	}

	proxyTransfers.WithLabelValues("upload", "success").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body)
}

// resolveNode accepts either a node id or a worker base URL, since
// upload plans hand out URLs while admin tooling speaks ids.
func (s *Server) resolveNode(token string) *types.NodeInfo {
	if token == "" {
		return nil
	}
	if node, err := s.db.GetNode(token); err == nil {
		return node
	}
	for _, n := range s.db.ListNodes() {
		if n.URL() == strings.TrimSuffix(token, "/") {
			return n
		}
	}
	return nil
}

// proxyBody unwraps multipart uploads (browser clients) and passes raw
// bodies through untouched.
func proxyBody(r *http.Request) (io.ReadCloser, int64, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(mediaType, "multipart/") {
			mr, err := r.MultipartReader()
			if err != nil {
				return nil, 0, fmt.Errorf("parse multipart body: %w", err)
			}
			for {
				part, err := mr.NextPart()
				if err != nil {
					return nil, 0, fmt.Errorf("multipart body has no file part")
				}
				if part.FormName() == "file" || part.FileName() != "" {
					return part, 0, nil
				}
			}
		}
	}
	return r.Body, r.ContentLength, nil
}

func (s *Server) proxyGet(w http.ResponseWriter, r *http.Request) {
	chunkID, err := uuid.Parse(r.PathValue("chunk_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunk id"})
		return
	}
	filePath := r.URL.Query().Get("file_path")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "file_path required"})
		return
	}

	file, err := s.db.GetFileByPath(filePath)
	if err != nil {
		writeError(w, err)
		return
	}
	s.filterLiveReplicas(file)

	chunk := file.Chunk(chunkID)
	if chunk == nil {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "chunk not in file", Kind: "not-found"})
		return
	}
	if len(chunk.Replicas) == 0 {
		proxyTransfers.WithLabelValues("download", "error").Inc()
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "no live replicas", Kind: "no-capacity"})
		return
	}

	start := int(s.proxyRR.Add(1))
	for k := 0; k < len(chunk.Replicas); k++ {
		rep := chunk.Replicas[(start+k)%len(chunk.Replicas)]
		if s.streamReplica(w, r, chunkID, rep) {
			proxyTransfers.WithLabelValues("download", "success").Inc()
			return
		}
	}

	proxyTransfers.WithLabelValues("download", "error").Inc()
	writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{
		Error: "all replicas failed", Kind: "unreachable",
	})
}

// streamReplica copies one worker's chunk response through. Reports
// false when the replica cannot serve so the caller can fail over.
func (s *Server) streamReplica(w http.ResponseWriter, r *http.Request, chunkID uuid.UUID, rep types.ReplicaInfo) bool {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rep.URL+"/chunks/"+chunkID.String(), nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("node_id", rep.NodeID).Str("chunk_id", chunkID.String()).
			Msg("coordinator: proxy replica unreachable")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Str("node_id", rep.NodeID).
			Str("chunk_id", chunkID.String()).Msg("coordinator: proxy replica refused")
		return false
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if cs := resp.Header.Get("X-Checksum"); cs != "" {
		w.Header().Set("X-Checksum", cs)
	}
	w.Header().Set("X-Chunk-ID", chunkID.String())
	w.Header().Set("X-Node-ID", rep.NodeID)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body)
	return true
}
