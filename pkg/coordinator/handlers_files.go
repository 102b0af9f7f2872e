// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// pathParam normalizes the {path...} wildcard: the mux unescapes
// %2F-encoded paths, so /files/%2Fa arrives as "/a" and /files/a as "a";
// both become "/a".
func pathParam(r *http.Request) string {
	p := r.PathValue("path")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// uploadInit validates the path, plans chunk ids and replica targets,
// and opens an upload session with a provisional (hidden) file record.
func (s *Server) uploadInit(w http.ResponseWriter, r *http.Request) {
	var req types.UploadInitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || !strings.HasPrefix(req.Path, "/") {
		uploadInits.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "path must be absolute"})
		return
	}
	if req.Size < 0 {
		uploadInits.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "size must be non-negative"})
		return
	}

	// The path lease serializes concurrent writers: it is held for the
	// whole session and released at commit or abandonment.
	lease, err := s.leases.Acquire(req.Path, "write", "", s.cfg.SessionTimeout)
	if err != nil {
		uploadInits.WithLabelValues("conflict").Inc()
		writeError(w, err)
		return
	}

	plan, err := s.planUpload(&req)
	if err != nil {
		s.leases.Release(lease.LeaseID)
		uploadInits.WithLabelValues(types.ErrorKind(err)).Inc()
		writeError(w, err)
		return
	}

	s.trackSessionLease(plan.FileID.String(), lease.LeaseID)
	uploadInits.WithLabelValues("success").Inc()

	logger.Info().
		Str("path", req.Path).
		Str("file_id", plan.FileID.String()).
		Int64("size", req.Size).
		Int("chunks", len(plan.Chunks)).
		Msg("coordinator: upload session opened")
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) planUpload(req *types.UploadInitRequest) (*types.UploadInitResponse, error) {
	nodes := s.db.ListNodes()
	now := time.Now().UTC()
	fileID := uuid.New()

	count := types.ChunkCount(req.Size, s.cfg.ChunkSize)
	sessChunks := make([]types.SessionChunk, 0, count)
	records := make([]types.ChunkRecord, 0, count)

	for i := 0; i < count; i++ {
		size := s.cfg.ChunkSize
		if i == count-1 {
			size = req.Size - int64(i)*s.cfg.ChunkSize
		}
		targets, err := s.planner.Targets(nodes, i, size)
		if err != nil {
			return nil, err
		}
		urls := make([]string, len(targets))
		for j, t := range targets {
			urls[j] = t.URL()
		}
		chunkID := uuid.New()
		sessChunks = append(sessChunks, types.SessionChunk{ChunkID: chunkID, Size: size, Targets: urls})
		records = append(records, types.ChunkRecord{ChunkID: chunkID, SeqIndex: i, Size: size})
	}

	// An empty file has no chunks, but still needs R active workers so
	// a degraded cluster fails loudly rather than accepting writes it
	// cannot replicate.
	if count == 0 {
		if _, err := s.planner.Targets(nodes, 0, 0); err != nil {
			return nil, err
		}
	}

	file := &types.FileRecord{
		FileID:       fileID,
		Path:         req.Path,
		Size:         req.Size,
		CreatedAt:    now,
		ModifiedAt:   now,
		Chunks:       records,
		Compressed:   req.Compressed,
		OriginalSize: req.OriginalSize,
	}
	sess := &types.UploadSession{
		FileID:    fileID,
		Path:      req.Path,
		Size:      req.Size,
		ChunkSize: s.cfg.ChunkSize,
		Chunks:    sessChunks,
		CreatedAt: now,
		Overwrite: req.Overwrite,
	}
	if err := s.db.PutProvisional(file, sess); err != nil {
		return nil, err
	}

	return &types.UploadInitResponse{
		FileID:    fileID,
		ChunkSize: s.cfg.ChunkSize,
		Chunks:    sessChunks,
	}, nil
}

// commit publishes an upload session. Every planned chunk must appear
// exactly once with at least one reporting worker; an overwrite retires
// the previous record atomically with the publish.
func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var req types.CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, ok := s.db.GetSession(req.FileID)
	if !ok {
		commits.WithLabelValues("expired").Inc()
		writeError(w, types.ErrSessionExpired)
		return
	}
	if sess.Expired(time.Now(), s.cfg.SessionTimeout) {
		s.db.DropSession(req.FileID)
		s.releaseSessionLease(req.FileID.String())
		commits.WithLabelValues("expired").Inc()
		writeError(w, types.ErrSessionExpired)
		return
	}

	file, err := s.db.PublishFile(req.FileID, req.Chunks, time.Now().UTC())
	if err != nil {
		commits.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	s.releaseSessionLease(req.FileID.String())
	commits.WithLabelValues("success").Inc()

	logger.Info().
		Str("path", file.Path).
		Str("file_id", file.FileID.String()).
		Int("chunks", len(file.Chunks)).
		Msg("coordinator: upload committed")
	writeJSON(w, http.StatusOK, types.CommitResponse{Status: "committed", FileID: file.FileID})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	files, err := s.db.ListFiles(q.Get("prefix"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []*types.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

// getFile returns the record with live replica information: placements
// on inactive workers are filtered out.
func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.db.GetFileByPath(pathParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.filterLiveReplicas(file)
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) filterLiveReplicas(file *types.FileRecord) {
	activeNodes := make(map[string]bool)
	for _, n := range s.db.ListNodes() {
		if n.State == types.NodeStateActive {
			activeNodes[n.NodeID] = true
		}
	}
	for i := range file.Chunks {
		c := &file.Chunks[i]
		live := c.Replicas[:0]
		for _, rep := range c.Replicas {
			if activeNodes[rep.NodeID] && rep.State != types.ChunkStateCorrupted && rep.State != types.ChunkStateDeleted {
				live = append(live, rep)
			}
		}
		c.Replicas = live
	}
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	permanent, _ := strconv.ParseBool(r.URL.Query().Get("permanent"))

	lease, err := s.leases.Acquire(path, "delete", "", s.cfg.LeaseTimeout)
	if err != nil {
		deletes.WithLabelValues("conflict").Inc()
		writeError(w, err)
		return
	}
	defer s.leases.Release(lease.LeaseID)

	file, err := s.db.SoftDeleteFile(path, time.Now().UTC())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			// Idempotent: deleting an absent or already-deleted path
			// succeeds with no state change.
			deletes.WithLabelValues("noop").Inc()
			writeJSON(w, http.StatusOK, types.DeleteResponse{Status: "deleted", Path: path, Permanent: permanent})
			return
		}
		deletes.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}

	if permanent {
		// Fire-and-forget physical removal; worker deletes are
		// idempotent and the queue retries transient failures.
		for i := range file.Chunks {
			c := &file.Chunks[i]
			for _, rep := range c.Replicas {
				s.enqueueChunkDelete(r.Context(), c.ChunkID, rep.URL)
			}
		}
		if err := s.db.PurgeFile(file.FileID); err != nil {
			deletes.WithLabelValues("error").Inc()
			writeError(w, err)
			return
		}
	}

	deletes.WithLabelValues("success").Inc()
	logger.Info().Str("path", path).Bool("permanent", permanent).Msg("coordinator: file deleted")
	writeJSON(w, http.StatusOK, types.DeleteResponse{Status: "deleted", Path: path, Permanent: permanent})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st := s.db.Stats()
	st.ActiveLeases = s.leases.Count()
	if qs, err := s.queue.Stats(r.Context()); err == nil {
		st.RepairBacklog = int(qs.Pending + qs.Running)
	}
	writeJSON(w, http.StatusOK, st)
}
