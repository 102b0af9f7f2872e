// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"testing"

	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(id string, free, total int64, rack string) *types.NodeInfo {
	return &types.NodeInfo{
		NodeID:     id,
		Host:       id,
		Port:       8001,
		Rack:       rack,
		FreeSpace:  free,
		TotalSpace: total,
		State:      types.NodeStateActive,
	}
}

func TestTargetsRoundRobinIsDeterministic(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 2, MinFreeRatio: 0.1}
	nodes := []*types.NodeInfo{
		testNode("w3", 1000, 1000, ""),
		testNode("w1", 1000, 1000, ""),
		testNode("w2", 1000, 1000, ""),
	}

	// Chunk 0 starts at the first id in sorted order.
	targets, err := p.Targets(nodes, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "w1", targets[0].NodeID)
	assert.Equal(t, "w2", targets[1].NodeID)

	// Chunk 1 rotates by one.
	targets, err = p.Targets(nodes, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "w2", targets[0].NodeID)
	assert.Equal(t, "w3", targets[1].NodeID)

	// Same snapshot, same plan.
	again, err := p.Targets(nodes, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, targets[0].NodeID, again[0].NodeID)
	assert.Equal(t, targets[1].NodeID, again[1].NodeID)
}

func TestTargetsSkipsLowSpaceWorkers(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 2, MinFreeRatio: 0.1}
	nodes := []*types.NodeInfo{
		testNode("w1", 5, 1000, ""),    // below the 10% floor
		testNode("w2", 1000, 1000, ""),
		testNode("w3", 8, 1000, ""),    // cannot fit the chunk
		testNode("w4", 1000, 1000, ""),
	}

	targets, err := p.Targets(nodes, 0, 10)
	require.NoError(t, err)
	ids := []string{targets[0].NodeID, targets[1].NodeID}
	assert.ElementsMatch(t, []string{"w2", "w4"}, ids)
}

func TestTargetsNoCapacity(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 3, MinFreeRatio: 0.1}

	// Too few active workers.
	nodes := []*types.NodeInfo{
		testNode("w1", 1000, 1000, ""),
		testNode("w2", 1000, 1000, ""),
	}
	_, err := p.Targets(nodes, 0, 10)
	assert.ErrorIs(t, err, types.ErrNoCapacity)

	// Enough workers, not enough space.
	nodes = append(nodes, testNode("w3", 1, 1000, ""))
	_, err = p.Targets(nodes, 0, 10)
	assert.ErrorIs(t, err, types.ErrNoCapacity)

	// Inactive workers never count.
	full := testNode("w4", 1000, 1000, "")
	full.State = types.NodeStateInactive
	nodes = append(nodes, full)
	_, err = p.Targets(nodes, 0, 10)
	assert.ErrorIs(t, err, types.ErrNoCapacity)
}

func TestTargetsSpreadsRacks(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 2, MinFreeRatio: 0.1}
	nodes := []*types.NodeInfo{
		testNode("w1", 1000, 1000, "rack-a"),
		testNode("w2", 1000, 1000, "rack-a"),
		testNode("w3", 900, 1000, "rack-b"),
	}

	// w1+w2 share rack-a; the plan must pull in rack-b.
	targets, err := p.Targets(nodes, 0, 10)
	require.NoError(t, err)
	racks := map[string]bool{targets[0].Rack: true, targets[1].Rack: true}
	assert.True(t, racks["rack-b"], "at least one replica must land off-rack")
}

func TestTargetsRackConstraintVacuousWithoutLabels(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 3, MinFreeRatio: 0.1}
	nodes := []*types.NodeInfo{
		testNode("w1", 1000, 1000, ""),
		testNode("w2", 1000, 1000, ""),
		testNode("w3", 1000, 1000, ""),
	}
	targets, err := p.Targets(nodes, 0, 10)
	require.NoError(t, err)
	assert.Len(t, targets, 3)
}

func TestRepairDestinationPrefersFreeSpace(t *testing.T) {
	t.Parallel()

	p := &Planner{ReplicationFactor: 3, MinFreeRatio: 0.1}
	nodes := []*types.NodeInfo{
		testNode("w1", 100, 1000, ""),
		testNode("w2", 900, 1000, ""),
		testNode("w3", 500, 1000, ""),
	}

	dest := p.RepairDestination(nodes, map[string]bool{"w2": true}, 10)
	require.NotNil(t, dest)
	assert.Equal(t, "w3", dest.NodeID, "w2 already holds the chunk, w3 has the most free bytes left")

	// All holding: nowhere to go.
	dest = p.RepairDestination(nodes, map[string]bool{"w1": true, "w2": true, "w3": true}, 10)
	assert.Nil(t, dest)
}
