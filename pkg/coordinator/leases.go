// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// LeaseTable grants exclusive per-path leases for write and delete
// operations. Leases are transient coordinator state: they are not
// journaled, and expire on their own when a client disappears.
type LeaseTable struct {
	mu     sync.Mutex
	byPath map[string]*types.Lease
	byID   map[uuid.UUID]*types.Lease
}

func NewLeaseTable() *LeaseTable {
	return &LeaseTable{
		byPath: make(map[string]*types.Lease),
		byID:   make(map[uuid.UUID]*types.Lease),
	}
}

// Acquire grants a lease on path for ttl, failing with ErrLeaseHeld
// while an unexpired lease exists.
func (t *LeaseTable) Acquire(path, operation, clientID string, ttl time.Duration) (*types.Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if held, ok := t.byPath[path]; ok {
		if !held.Expired(now) {
			return nil, fmt.Errorf("path %q held until %s: %w", path, held.ExpiresAt.Format(time.RFC3339), types.ErrLeaseHeld)
		}
		delete(t.byID, held.LeaseID)
		delete(t.byPath, path)
	}

	lease := &types.Lease{
		LeaseID:   uuid.New(),
		Path:      path,
		ClientID:  clientID,
		Operation: operation,
		ExpiresAt: now.Add(ttl),
	}
	t.byPath[path] = lease
	t.byID[lease.LeaseID] = lease

	cp := *lease
	return &cp, nil
}

// Release frees a lease by id. Unknown ids report false.
func (t *LeaseTable) Release(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lease, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	if cur, ok := t.byPath[lease.Path]; ok && cur.LeaseID == id {
		delete(t.byPath, lease.Path)
	}
	return true
}

// Sweep drops expired leases; called from the liveness scanner.
func (t *LeaseTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	swept := 0
	for path, lease := range t.byPath {
		if lease.Expired(now) {
			delete(t.byPath, path)
			delete(t.byID, lease.LeaseID)
			swept++
		}
	}
	if swept > 0 {
		logger.Debug().Int("count", swept).Msg("coordinator: expired leases swept")
	}
	return swept
}

// Count returns the number of live leases.
func (t *LeaseTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPath)
}
