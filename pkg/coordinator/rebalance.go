// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/taskqueue"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// Rebalance mode (off by default) drains hot workers: placements move
// from workers above average utilization to workers below it. A move is
// copy, then wait for heartbeat confirm, then delete on the source, so
// the replica count never dips under R.

// utilizationMargin keeps rebalance from thrashing on small deltas.
const utilizationMargin = 0.10

type rebalancePayload struct {
	Path       string    `json:"path"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	FromNodeID string    `json:"from_node_id"`
	Size       int64     `json:"size"`
}

func nodeUtilization(n *types.NodeInfo) float64 {
	if n.TotalSpace <= 0 {
		return 0
	}
	return 1 - n.FreeRatio()
}

func averageUtilization(nodes []*types.NodeInfo) float64 {
	var sum float64
	active := 0
	for _, n := range nodes {
		if n.State == types.NodeStateActive {
			sum += nodeUtilization(n)
			active++
		}
	}
	if active == 0 {
		return 0
	}
	return sum / float64(active)
}

// considerRebalance runs inside the repair scan for chunks already at
// or above R live placements.
//
// present == R: when a holder sits above average utilization and an
// eligible below-average destination exists, enqueue the copy phase.
// present > R: a previous copy confirmed; delete the placement on the
// most utilized holder to finish the move.
func (s *Server) considerRebalance(ctx context.Context, file *types.FileRecord, chunk *types.ChunkRecord, nodes []*types.NodeInfo, present int, inflight map[uuid.UUID]bool) {
	byID := make(map[string]*types.NodeInfo, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	avg := averageUtilization(nodes)

	if present > s.cfg.ReplicationFactor {
		s.finishRebalanceMove(ctx, chunk, byID)
		return
	}

	if inflight[chunk.ChunkID] {
		return
	}

	var hottest *types.NodeInfo
	for _, rep := range chunk.Replicas {
		n, ok := byID[rep.NodeID]
		if !ok || n.State != types.NodeStateActive || rep.State != types.ChunkStateCommitted {
			continue
		}
		if nodeUtilization(n) > avg+utilizationMargin && (hottest == nil || nodeUtilization(n) > nodeUtilization(hottest)) {
			hottest = n
		}
	}
	if hottest == nil {
		return
	}

	holders := make(map[string]bool, len(chunk.Replicas))
	for _, rep := range chunk.Replicas {
		holders[rep.NodeID] = true
	}
	dest := s.planner.RepairDestination(nodes, holders, chunk.Size)
	if dest == nil || nodeUtilization(dest) > avg {
		return
	}

	payload, err := taskqueue.MarshalPayload(&rebalancePayload{
		Path:       file.Path,
		ChunkID:    chunk.ChunkID,
		FromNodeID: hottest.NodeID,
		Size:       chunk.Size,
	})
	if err != nil {
		return
	}
	task := &taskqueue.Task{
		Type:     taskqueue.TaskTypeRebalance,
		Priority: taskqueue.PriorityLow,
		Payload:  payload,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		logger.Warn().Err(err).Str("chunk_id", chunk.ChunkID.String()).Msg("coordinator: enqueue rebalance")
		return
	}
	rebalanceMoves.Inc()
}

// finishRebalanceMove deletes the surplus placement on the hottest
// holder once the copy is confirmed committed elsewhere.
func (s *Server) finishRebalanceMove(ctx context.Context, chunk *types.ChunkRecord, byID map[string]*types.NodeInfo) {
	var victim *types.ReplicaInfo
	var victimUtil float64
	committed := 0
	for i := range chunk.Replicas {
		rep := &chunk.Replicas[i]
		n, ok := byID[rep.NodeID]
		if !ok || n.State != types.NodeStateActive || rep.State != types.ChunkStateCommitted {
			continue
		}
		committed++
		if u := nodeUtilization(n); victim == nil || u > victimUtil {
			victim = rep
			victimUtil = u
		}
	}
	// Only shrink when every surviving copy is confirmed: R committed
	// placements must remain after the delete.
	if victim == nil || committed <= s.cfg.ReplicationFactor {
		return
	}

	logger.Info().
		Str("chunk_id", chunk.ChunkID.String()).
		Str("node_id", victim.NodeID).
		Msg("coordinator: rebalance deleting surplus placement")
	s.enqueueChunkDelete(ctx, chunk.ChunkID, victim.URL)
	s.db.RemoveReplica(chunk.ChunkID, victim.NodeID)
}

// rebalanceHandler runs the copy phase of a move: identical mechanics
// to repair, but the destination is chosen below average utilization.
type rebalanceHandler struct {
	s *Server
}

func (h *rebalanceHandler) Type() taskqueue.TaskType { return taskqueue.TaskTypeRebalance }

func (h *rebalanceHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	p, err := taskqueue.UnmarshalPayload[rebalancePayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	if err := h.s.repairLimiter.Wait(ctx); err != nil {
		return err
	}

	s := h.s
	file, err := s.db.GetFileByPath(p.Path)
	if err != nil {
		return nil
	}
	chunk := file.Chunk(p.ChunkID)
	if chunk == nil {
		return nil
	}

	nodes := s.db.ListNodes()
	avg := averageUtilization(nodes)

	var source *types.ReplicaInfo
	holders := make(map[string]bool, len(chunk.Replicas))
	for i := range chunk.Replicas {
		rep := &chunk.Replicas[i]
		holders[rep.NodeID] = true
		if rep.NodeID == p.FromNodeID && rep.State == types.ChunkStateCommitted {
			source = rep
		}
	}
	if source == nil {
		return nil // the placement moved on its own (heartbeat churn)
	}

	dest := s.planner.RepairDestination(nodes, holders, p.Size)
	if dest == nil || nodeUtilization(dest) > avg {
		return nil
	}

	if err := s.replicateChunk(ctx, source.URL, p.ChunkID, dest.URL()); err != nil {
		return err
	}

	seen := time.Now().UTC()
	return s.db.AddPendingReplica(p.ChunkID, types.ReplicaInfo{
		NodeID:   dest.NodeID,
		URL:      dest.URL(),
		State:    types.ChunkStatePending,
		LastSeen: &seen,
	})
}
