// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"sort"

	"github.com/driftlabs/driftfs/pkg/types"
)

// Planner implements capacity-weighted round-robin placement. Given the
// same active-worker snapshot the plan is deterministic: workers are
// ordered by id and chunk i takes indices (i+k) mod |W|, skipping any
// worker that is low on space.
type Planner struct {
	ReplicationFactor int
	MinFreeRatio      float64
}

// eligible: enough free bytes for the chunk and above the free-space
// floor.
func (p *Planner) eligible(n *types.NodeInfo, chunkSize int64) bool {
	if n.State != types.NodeStateActive {
		return false
	}
	if n.FreeSpace < chunkSize {
		return false
	}
	if n.TotalSpace > 0 && n.FreeRatio() < p.MinFreeRatio {
		return false
	}
	return true
}

// Targets picks ReplicationFactor workers for chunk chunkIndex. nodes
// may be in any order and any state; only active workers count.
func (p *Planner) Targets(nodes []*types.NodeInfo, chunkIndex int, chunkSize int64) ([]*types.NodeInfo, error) {
	ring := make([]*types.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.State == types.NodeStateActive {
			ring = append(ring, n)
		}
	}
	if len(ring) < p.ReplicationFactor {
		return nil, fmt.Errorf("%d active workers, need %d: %w", len(ring), p.ReplicationFactor, types.ErrNoCapacity)
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].NodeID < ring[j].NodeID })

	selected := make([]*types.NodeInfo, 0, p.ReplicationFactor)
	taken := make(map[string]bool, p.ReplicationFactor)
	for k := 0; k < len(ring) && len(selected) < p.ReplicationFactor; k++ {
		n := ring[(chunkIndex+k)%len(ring)]
		if taken[n.NodeID] || !p.eligible(n, chunkSize) {
			continue
		}
		selected = append(selected, n)
		taken[n.NodeID] = true
	}

	if len(selected) < p.ReplicationFactor {
		return nil, fmt.Errorf("only %d workers with %d free bytes, need %d: %w",
			len(selected), chunkSize, p.ReplicationFactor, types.ErrNoCapacity)
	}

	p.spreadRacks(selected, ring, taken, chunkSize)
	return selected, nil
}

// spreadRacks enforces the soft rack constraint: when racks are labeled
// and every selected worker shares one rack, the last pick is swapped
// for the off-rack eligible worker with the most free bytes. Vacuous
// when racks are unset.
func (p *Planner) spreadRacks(selected, ring []*types.NodeInfo, taken map[string]bool, chunkSize int64) {
	if len(selected) < 2 {
		return
	}
	rack := selected[0].Rack
	if rack == "" {
		return
	}
	for _, n := range selected[1:] {
		if n.Rack != rack {
			return
		}
	}

	var swap *types.NodeInfo
	for _, n := range ring {
		if taken[n.NodeID] || n.Rack == "" || n.Rack == rack {
			continue
		}
		if !p.eligible(n, chunkSize) {
			continue
		}
		if swap == nil || n.FreeSpace > swap.FreeSpace {
			swap = n
		}
	}
	if swap != nil {
		delete(taken, selected[len(selected)-1].NodeID)
		selected[len(selected)-1] = swap
		taken[swap.NodeID] = true
	}
}

// RepairDestination picks the best worker to receive a new replica of a
// chunk: active, not already holding a placement, enough free space,
// most free bytes first. Returns nil when no worker qualifies.
func (p *Planner) RepairDestination(nodes []*types.NodeInfo, holders map[string]bool, chunkSize int64) *types.NodeInfo {
	var best *types.NodeInfo
	for _, n := range nodes {
		if holders[n.NodeID] || !p.eligible(n, chunkSize) {
			continue
		}
		if best == nil || n.FreeSpace > best.FreeSpace {
			best = n
		}
	}
	return best
}
