// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/taskqueue"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// Payload types for the background task queue.

type repairPayload struct {
	Path    string    `json:"path"`
	ChunkID uuid.UUID `json:"chunk_id"`
	Size    int64     `json:"size"`
}

type chunkDeletePayload struct {
	ChunkID uuid.UUID `json:"chunk_id"`
	NodeURL string    `json:"node_url"`
}

// pendingReplicaTTL bounds how long an unconfirmed placement blocks a
// destination. A repair copy that never shows up in a heartbeat within
// this window is treated as failed and retried elsewhere.
const pendingReplicaTTL = 5 * time.Minute

// repairLoop periodically scans every committed chunk and enqueues a
// copy for each one with fewer live placements than the replication
// factor. Chunks closest to loss get the highest priority.
func (s *Server) repairLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RepairPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRepairScan(ctx)
		}
	}
}

func (s *Server) runRepairScan(ctx context.Context) {
	defer repairRuns.Inc()

	nodes := s.db.ListNodes()
	activeNodes := make(map[string]bool)
	for _, n := range nodes {
		if n.State == types.NodeStateActive {
			activeNodes[n.NodeID] = true
		}
	}
	if len(activeNodes) == 0 {
		return
	}

	inflight := s.inflightRepairs(ctx)
	now := time.Now()
	scheduled := 0

	s.db.CommittedChunks(func(file *types.FileRecord, chunk *types.ChunkRecord) bool {
		present := 0
		for i := range chunk.Replicas {
			rep := &chunk.Replicas[i]
			if !activeNodes[rep.NodeID] {
				continue
			}
			switch rep.State {
			case types.ChunkStateCommitted:
				present++
			case types.ChunkStatePending:
				if rep.LastSeen != nil && now.Sub(*rep.LastSeen) > pendingReplicaTTL {
					// Copy never confirmed; free the slot for a retry.
					s.db.RemoveReplica(chunk.ChunkID, rep.NodeID)
					continue
				}
				present++
			}
		}

		switch {
		case present < s.cfg.ReplicationFactor:
			if inflight[chunk.ChunkID] {
				return true
			}
			payload, err := taskqueue.MarshalPayload(&repairPayload{
				Path:    file.Path,
				ChunkID: chunk.ChunkID,
				Size:    chunk.Size,
			})
			if err != nil {
				return true
			}
			task := &taskqueue.Task{
				Type:     taskqueue.TaskTypeRepair,
				Priority: taskqueue.TaskPriority(s.cfg.ReplicationFactor - present),
				Payload:  payload,
			}
			if err := s.queue.Enqueue(ctx, task); err != nil {
				logger.Error().Err(err).Str("chunk_id", chunk.ChunkID.String()).Msg("coordinator: enqueue repair")
				return true
			}
			scheduled++
			repairsScheduled.Inc()

		case s.cfg.RebalanceEnabled:
			s.considerRebalance(ctx, file, chunk, nodes, present, inflight)
		}
		return true
	})

	if scheduled > 0 {
		logger.Info().Int("scheduled", scheduled).Msg("coordinator: repair scan enqueued copies")
	}
}

// inflightRepairs returns chunk ids with a repair already queued or
// running, so a slow copy is not scheduled twice.
func (s *Server) inflightRepairs(ctx context.Context) map[uuid.UUID]bool {
	inflight := make(map[uuid.UUID]bool)
	for _, status := range []taskqueue.TaskStatus{taskqueue.StatusPending, taskqueue.StatusRunning} {
		tasks, err := s.queue.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypeRepair, Status: status})
		if err != nil {
			continue
		}
		for _, t := range tasks {
			p, err := taskqueue.UnmarshalPayload[repairPayload](t.Payload)
			if err != nil {
				continue
			}
			inflight[p.ChunkID] = true
		}
	}
	return inflight
}

// repairHandler executes one repair copy: pick a live source replica,
// pick an eligible destination, and tell the source worker to push the
// chunk over. The placement lands pending and is promoted by the
// destination's next heartbeat.
type repairHandler struct {
	s *Server
}

func (h *repairHandler) Type() taskqueue.TaskType { return taskqueue.TaskTypeRepair }

func (h *repairHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	p, err := taskqueue.UnmarshalPayload[repairPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	if err := h.s.repairLimiter.Wait(ctx); err != nil {
		return err
	}

	s := h.s
	file, err := s.db.GetFileByPath(p.Path)
	if err != nil {
		return nil // deleted or overwritten since the scan; nothing to do
	}
	chunk := file.Chunk(p.ChunkID)
	if chunk == nil {
		return nil
	}

	nodes := s.db.ListNodes()
	activeNodes := make(map[string]bool)
	for _, n := range nodes {
		if n.State == types.NodeStateActive {
			activeNodes[n.NodeID] = true
		}
	}

	holders := make(map[string]bool)
	var source *types.ReplicaInfo
	present := 0
	for i := range chunk.Replicas {
		rep := &chunk.Replicas[i]
		holders[rep.NodeID] = true
		if !activeNodes[rep.NodeID] {
			continue
		}
		if rep.State == types.ChunkStateCommitted || rep.State == types.ChunkStatePending {
			present++
		}
		if rep.State == types.ChunkStateCommitted && source == nil {
			source = rep
		}
	}
	if present >= s.cfg.ReplicationFactor {
		return nil // healed in the meantime
	}
	if source == nil {
		return fmt.Errorf("chunk %s has no live committed source", p.ChunkID)
	}

	dest := s.planner.RepairDestination(nodes, holders, p.Size)
	if dest == nil {
		// Under-replicated with nowhere to copy (e.g. cluster smaller
		// than R). Not an error; the next scan retries.
		logger.Debug().
			Str("chunk_id", p.ChunkID.String()).
			Int("present", present).
			Msg("coordinator: no eligible repair destination, skipping")
		return nil
	}

	if err := s.replicateChunk(ctx, source.URL, p.ChunkID, dest.URL()); err != nil {
		repairsCompleted.WithLabelValues("error").Inc()
		return err
	}

	seen := time.Now().UTC()
	if err := s.db.AddPendingReplica(p.ChunkID, types.ReplicaInfo{
		NodeID:   dest.NodeID,
		URL:      dest.URL(),
		State:    types.ChunkStatePending,
		LastSeen: &seen,
	}); err != nil {
		repairsCompleted.WithLabelValues("error").Inc()
		return err
	}

	repairsCompleted.WithLabelValues("success").Inc()
	logger.Info().
		Str("chunk_id", p.ChunkID.String()).
		Str("path", p.Path).
		Str("source", source.NodeID).
		Str("destination", dest.NodeID).
		Msg("coordinator: chunk re-replicated")
	return nil
}

// replicateChunk asks the source worker to push chunkID to destURL.
func (s *Server) replicateChunk(ctx context.Context, sourceURL string, chunkID uuid.UUID, destURL string) error {
	body, err := json.Marshal(&types.ReplicateRequest{ChunkID: chunkID, DestinationURL: destURL})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sourceURL+"/replicate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("source returned %d: %s", resp.StatusCode, string(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// enqueueChunkDelete schedules best-effort physical removal of a chunk
// replica. Worker deletes are idempotent, so retries are free.
func (s *Server) enqueueChunkDelete(ctx context.Context, chunkID uuid.UUID, nodeURL string) {
	if nodeURL == "" {
		return
	}
	payload, err := taskqueue.MarshalPayload(&chunkDeletePayload{ChunkID: chunkID, NodeURL: nodeURL})
	if err != nil {
		return
	}
	task := &taskqueue.Task{
		Type:     taskqueue.TaskTypeChunkDelete,
		Priority: taskqueue.PriorityLow,
		Payload:  payload,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		logger.Warn().Err(err).Str("chunk_id", chunkID.String()).Msg("coordinator: enqueue chunk delete")
	}
}

type chunkDeleteHandler struct {
	s *Server
}

func (h *chunkDeleteHandler) Type() taskqueue.TaskType { return taskqueue.TaskTypeChunkDelete }

func (h *chunkDeleteHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	p, err := taskqueue.UnmarshalPayload[chunkDeletePayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.NodeURL+"/chunks/"+p.ChunkID.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 404 is success: the bytes are already gone.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("worker returned %d deleting chunk %s", resp.StatusCode, p.ChunkID)
}
