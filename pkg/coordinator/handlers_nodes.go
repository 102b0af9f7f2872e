// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"net/http"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
)

// heartbeat upserts the worker record and synchronizes its placements
// with the reported inventory. The newest report wins unconditionally.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NodeID == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "node_id required"})
		return
	}

	if err := s.db.SyncNode(&req, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	heartbeatsReceived.Inc()

	logger.Debug().
		Str("node_id", req.NodeID).
		Int("chunks", len(req.ChunkIDs)).
		Int64("free_space", req.FreeSpace).
		Msg("coordinator: heartbeat processed")
	writeJSON(w, http.StatusOK, types.HeartbeatResponse{Status: "ok", NodeID: req.NodeID})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.db.ListNodes()
	if nodes == nil {
		nodes = []*types.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.db.GetNode(r.PathValue("node_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// decommissionNode is the explicit admin action that retires a worker.
// The state is sticky: heartbeats keep refreshing stats but never
// reactivate the node, and placement ignores it.
func (s *Server) decommissionNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node_id")
	if err := s.db.SetNodeState(nodeID, types.NodeStateDecommissioned); err != nil {
		writeError(w, err)
		return
	}
	logger.Info().Str("node_id", nodeID).Msg("coordinator: worker decommissioned")
	writeJSON(w, http.StatusOK, map[string]string{"status": "decommissioned", "node_id": nodeID})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	nodes := s.db.ListNodes()
	active := 0
	for _, n := range nodes {
		if n.State == types.NodeStateActive {
			active++
		}
	}

	status := "healthy"
	switch {
	case active == 0:
		status = "unhealthy"
	case active < s.cfg.ReplicationFactor:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Details: map[string]any{
			"total_nodes":        len(nodes),
			"active_nodes":       active,
			"replication_factor": s.cfg.ReplicationFactor,
		},
	})
}

func (s *Server) acquireLease(w http.ResponseWriter, r *http.Request) {
	var req types.LeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "path required"})
		return
	}

	ttl := s.cfg.LeaseTimeout
	if req.TimeoutSeconds > 0 {
		ttl = time.Duration(req.TimeoutSeconds) * time.Second
	}
	lease, err := s.leases.Acquire(req.Path, req.Operation, req.ClientID, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (s *Server) releaseLease(w http.ResponseWriter, r *http.Request) {
	var req types.LeaseReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.leases.Release(req.LeaseID) {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "lease not found", Kind: "not-found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "lease_id": req.LeaseID.String()})
}
