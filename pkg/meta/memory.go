// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// ErrInvalidCommit flags a commit whose chunk list does not match the
// session plan, or that reports a chunk with zero nodes.
var ErrInvalidCommit = errors.New("invalid commit")

// Compile-time interface verification
var _ DB = (*Store)(nil)

type pathEntry struct {
	path   string
	fileID uuid.UUID
}

func pathLess(a, b pathEntry) bool { return a.path < b.path }

// Store is the reference DB: everything in memory under one writer
// lock, every mutation journaled before it is applied. Open replays the
// journal to rebuild identical state.
type Store struct {
	mu sync.RWMutex

	files    map[uuid.UUID]*types.FileRecord
	byPath   *btree.BTreeG[pathEntry] // published, non-deleted paths
	sessions map[uuid.UUID]*types.UploadSession
	chunks   map[uuid.UUID]uuid.UUID // chunk id -> owning file id
	nodes    map[string]*types.NodeInfo
	reported map[string]map[uuid.UUID]struct{} // node id -> last confirmed inventory

	wal       *journal // nil for pure in-memory (tests)
	replaying bool
}

// Open builds a Store, replaying the journal at journalPath when it is
// non-empty. An empty journalPath yields a volatile store.
func Open(journalPath string) (*Store, error) {
	s := &Store{
		files:    make(map[uuid.UUID]*types.FileRecord),
		byPath:   btree.NewG(8, pathLess),
		sessions: make(map[uuid.UUID]*types.UploadSession),
		chunks:   make(map[uuid.UUID]uuid.UUID),
		nodes:    make(map[string]*types.NodeInfo),
		reported: make(map[string]map[uuid.UUID]struct{}),
	}

	if journalPath == "" {
		return s, nil
	}

	s.replaying = true
	start := time.Now()
	var replayed int
	err := replayJournal(journalPath, func(rec *walRecord) error {
		replayed++
		return s.applyRecord(rec)
	})
	s.replaying = false
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if replayed > 0 {
		logger.Info().
			Int("records", replayed).
			Int("files", len(s.files)).
			Int("nodes", len(s.nodes)).
			Dur("took", time.Since(start)).
			Msg("meta: journal replayed")
	}

	wal, err := openJournal(journalPath)
	if err != nil {
		return nil, err
	}
	s.wal = wal
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal != nil {
		return s.wal.Close()
	}
	return nil
}

// Checkpoint compacts the journal down to one snapshot record. Called
// from the GC loop so replay cost stays bounded.
func (s *Store) Checkpoint(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}

	snap := snapshotPayload{}
	for _, f := range s.files {
		snap.Files = append(snap.Files, cloneFile(f))
	}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, cloneSession(sess))
	}
	for _, n := range s.nodes {
		cp := *n
		snap.Nodes = append(snap.Nodes, &cp)
	}
	return s.wal.rewrite(now, &snap)
}

// journalOp appends one record unless the store is replaying. The
// record carries the mutation's own timestamp so replay reproduces
// identical state.
func (s *Store) journalOp(op string, at time.Time, payload any) error {
	if s.wal == nil || s.replaying {
		return nil
	}
	return s.wal.append(op, at, payload)
}

// applyRecord re-applies a journal record during replay. Mutations run
// through the same internal apply* paths the live operations use.
func (s *Store) applyRecord(rec *walRecord) error {
	switch rec.Op {
	case opSnapshot:
		var p snapshotPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		return s.applySnapshot(&p)
	case opProvision:
		var p provisionPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyProvision(p.File, p.Session)
		return nil
	case opPublish:
		var p publishPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		_, err := s.applyPublish(p.FileID, p.Chunks, rec.At)
		// A publish that was journaled always applied; a session lost to
		// an earlier snapshot cannot happen because snapshots carry them.
		return err
	case opSoftDelete:
		var p softDeletePayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applySoftDelete(p.Path, rec.At)
		return nil
	case opPurge:
		var p fileIDPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyPurge(p.FileID)
		return nil
	case opDropSession:
		var p fileIDPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyDropSession(p.FileID)
		return nil
	case opNodeUpsert:
		var n types.NodeInfo
		if err := unmarshalPayload(rec, &n); err != nil {
			return err
		}
		s.applyNodeUpsert(&n)
		return nil
	case opNodeState:
		var p nodeStatePayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyNodeState(p.NodeID, p.State)
		return nil
	case opReplicaAdd:
		var p replicaAddPayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyReplicaAdd(p.ChunkID, p.Replica)
		return nil
	case opReplicaRemove:
		var p replicaRemovePayload
		if err := unmarshalPayload(rec, &p); err != nil {
			return err
		}
		s.applyReplicaRemove(p.ChunkID, p.NodeID)
		return nil
	default:
		logger.Warn().Str("op", rec.Op).Msg("meta: unknown journal op skipped")
		return nil
	}
}

func unmarshalPayload(rec *walRecord, v any) error {
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", rec.Op, err)
	}
	return nil
}

func (s *Store) applySnapshot(p *snapshotPayload) error {
	s.files = make(map[uuid.UUID]*types.FileRecord, len(p.Files))
	s.byPath = btree.NewG(8, pathLess)
	s.sessions = make(map[uuid.UUID]*types.UploadSession, len(p.Sessions))
	s.chunks = make(map[uuid.UUID]uuid.UUID)
	s.nodes = make(map[string]*types.NodeInfo, len(p.Nodes))
	s.reported = make(map[string]map[uuid.UUID]struct{}, len(p.Nodes))

	// Sessions first: isPublished consults them to keep provisional
	// records out of the path index.
	for _, sess := range p.Sessions {
		s.sessions[sess.FileID] = sess
	}
	for _, f := range p.Files {
		s.files[f.FileID] = f
		for i := range f.Chunks {
			s.chunks[f.Chunks[i].ChunkID] = f.FileID
		}
		if s.isPublished(f) {
			s.byPath.ReplaceOrInsert(pathEntry{path: f.Path, fileID: f.FileID})
		}
		for i := range f.Chunks {
			for _, r := range f.Chunks[i].Replicas {
				if r.State == types.ChunkStateCommitted {
					s.reportedSet(r.NodeID)[f.Chunks[i].ChunkID] = struct{}{}
				}
			}
		}
	}
	for _, n := range p.Nodes {
		s.nodes[n.NodeID] = n
	}
	return nil
}

// isPublished: visible in the namespace. Provisional records have a live
// session; abandoned/soft-deleted ones are flagged.
func (s *Store) isPublished(f *types.FileRecord) bool {
	if f.IsDeleted {
		return false
	}
	_, provisional := s.sessions[f.FileID]
	return !provisional
}

func (s *Store) reportedSet(nodeID string) map[uuid.UUID]struct{} {
	set, ok := s.reported[nodeID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		s.reported[nodeID] = set
	}
	return set
}

// --- file lifecycle ---------------------------------------------------

func (s *Store) PutProvisional(file *types.FileRecord, sess *types.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPath.Get(pathEntry{path: file.Path}); ok && !sess.Overwrite {
		return fmt.Errorf("path %q: %w", file.Path, types.ErrPathConflict)
	}

	file = cloneFile(file)
	sess = cloneSession(sess)
	if err := s.journalOp(opProvision, file.CreatedAt, &provisionPayload{File: file, Session: sess}); err != nil {
		return err
	}
	s.applyProvision(file, sess)
	return nil
}

func (s *Store) applyProvision(file *types.FileRecord, sess *types.UploadSession) {
	s.sessions[sess.FileID] = sess
	s.files[file.FileID] = file
	for i := range file.Chunks {
		s.chunks[file.Chunks[i].ChunkID] = file.FileID
	}
}

func (s *Store) GetSession(fileID uuid.UUID) (*types.UploadSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[fileID]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

func (s *Store) DropSession(fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[fileID]; !ok {
		return nil
	}
	if err := s.journalOp(opDropSession, time.Now().UTC(), &fileIDPayload{FileID: fileID}); err != nil {
		return err
	}
	s.applyDropSession(fileID)
	return nil
}

func (s *Store) applyDropSession(fileID uuid.UUID) {
	delete(s.sessions, fileID)
	if f, ok := s.files[fileID]; ok {
		for i := range f.Chunks {
			delete(s.chunks, f.Chunks[i].ChunkID)
		}
		delete(s.files, fileID)
	}
}

func (s *Store) ExpiredSessions(cutoff time.Time) []*types.UploadSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.UploadSession
	for _, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			out = append(out, cloneSession(sess))
		}
	}
	return out
}

func (s *Store) PublishFile(fileID uuid.UUID, chunks []types.ChunkCommitInfo, now time.Time) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[fileID]; !ok {
		return nil, types.ErrSessionExpired
	}
	if err := s.validateCommit(fileID, chunks); err != nil {
		return nil, err
	}

	if err := s.journalOp(opPublish, now, &publishPayload{FileID: fileID, Chunks: chunks}); err != nil {
		return nil, err
	}
	f, err := s.applyPublish(fileID, chunks, now)
	if err != nil {
		return nil, err
	}
	return cloneFile(f), nil
}

func (s *Store) validateCommit(fileID uuid.UUID, chunks []types.ChunkCommitInfo) error {
	sess := s.sessions[fileID]
	planned := make(map[uuid.UUID]bool, len(sess.Chunks))
	for _, c := range sess.Chunks {
		planned[c.ChunkID] = false
	}
	for _, c := range chunks {
		seen, ok := planned[c.ChunkID]
		if !ok {
			return fmt.Errorf("chunk %s not in session plan: %w", c.ChunkID, ErrInvalidCommit)
		}
		if seen {
			return fmt.Errorf("chunk %s reported twice: %w", c.ChunkID, ErrInvalidCommit)
		}
		if len(c.Nodes) == 0 {
			return fmt.Errorf("chunk %s has zero reporting nodes: %w", c.ChunkID, ErrInvalidCommit)
		}
		if c.Checksum == "" {
			return fmt.Errorf("chunk %s missing checksum: %w", c.ChunkID, ErrInvalidCommit)
		}
		planned[c.ChunkID] = true
	}
	for id, seen := range planned {
		if !seen {
			return fmt.Errorf("chunk %s missing from commit: %w", id, ErrInvalidCommit)
		}
	}
	return nil
}

func (s *Store) applyPublish(fileID uuid.UUID, chunks []types.ChunkCommitInfo, now time.Time) (*types.FileRecord, error) {
	f, ok := s.files[fileID]
	if !ok {
		return nil, types.ErrSessionExpired
	}

	byID := make(map[uuid.UUID]*types.ChunkCommitInfo, len(chunks))
	for i := range chunks {
		byID[chunks[i].ChunkID] = &chunks[i]
	}

	for i := range f.Chunks {
		c := &f.Chunks[i]
		info, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		c.Checksum = info.Checksum
		c.Replicas = c.Replicas[:0]
		seen := now
		for _, nodeID := range info.Nodes {
			url := ""
			if n, ok := s.nodes[nodeID]; ok {
				url = n.URL()
			}
			c.Replicas = append(c.Replicas, types.ReplicaInfo{
				NodeID:   nodeID,
				URL:      url,
				State:    types.ChunkStatePending,
				LastSeen: &seen,
			})
		}
	}

	// Overwrite: retire the old holder atomically with the publish.
	if prev, ok := s.byPath.Get(pathEntry{path: f.Path}); ok && prev.fileID != fileID {
		if old, ok := s.files[prev.fileID]; ok {
			old.IsDeleted = true
			at := now
			old.DeletedAt = &at
		}
	}

	f.ModifiedAt = now
	delete(s.sessions, fileID)
	s.byPath.ReplaceOrInsert(pathEntry{path: f.Path, fileID: fileID})
	return f, nil
}

func (s *Store) GetFileByPath(path string) (*types.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byPath.Get(pathEntry{path: path})
	if !ok {
		return nil, fmt.Errorf("file %q: %w", path, types.ErrNotFound)
	}
	return cloneFile(s.files[entry.fileID]), nil
}

func (s *Store) ListFiles(prefix string, limit, offset int) ([]*types.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.FileRecord
	skipped := 0
	s.byPath.AscendGreaterOrEqual(pathEntry{path: prefix}, func(e pathEntry) bool {
		if !strings.HasPrefix(e.path, prefix) {
			return false
		}
		if skipped < offset {
			skipped++
			return true
		}
		if limit > 0 && len(out) >= limit {
			return false
		}
		out = append(out, cloneFile(s.files[e.fileID]))
		return true
	})
	return out, nil
}

func (s *Store) SoftDeleteFile(path string, now time.Time) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPath.Get(pathEntry{path: path}); !ok {
		return nil, fmt.Errorf("file %q: %w", path, types.ErrNotFound)
	}
	if err := s.journalOp(opSoftDelete, now, &softDeletePayload{Path: path}); err != nil {
		return nil, err
	}
	return cloneFile(s.applySoftDelete(path, now)), nil
}

func (s *Store) applySoftDelete(path string, now time.Time) *types.FileRecord {
	entry, ok := s.byPath.Get(pathEntry{path: path})
	if !ok {
		return nil
	}
	f := s.files[entry.fileID]
	f.IsDeleted = true
	at := now
	f.DeletedAt = &at
	s.byPath.Delete(entry)
	return f
}

func (s *Store) PurgeFile(fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return nil
	}
	if err := s.journalOp(opPurge, time.Now().UTC(), &fileIDPayload{FileID: fileID}); err != nil {
		return err
	}
	s.applyPurge(fileID)
	return nil
}

func (s *Store) applyPurge(fileID uuid.UUID) {
	f, ok := s.files[fileID]
	if !ok {
		return
	}
	for i := range f.Chunks {
		chunkID := f.Chunks[i].ChunkID
		delete(s.chunks, chunkID)
		for _, set := range s.reported {
			delete(set, chunkID)
		}
	}
	if entry, ok := s.byPath.Get(pathEntry{path: f.Path}); ok && entry.fileID == fileID {
		s.byPath.Delete(entry)
	}
	delete(s.files, fileID)
}

func (s *Store) DeletedBefore(cutoff time.Time) []*types.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.FileRecord
	for _, f := range s.files {
		if f.IsDeleted && f.DeletedAt != nil && f.DeletedAt.Before(cutoff) {
			out = append(out, cloneFile(f))
		}
	}
	return out
}

// --- nodes and replicas -----------------------------------------------

func (s *Store) SyncNode(hb *types.HeartbeatRequest, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[hb.NodeID]
	if !ok {
		node = &types.NodeInfo{NodeID: hb.NodeID}
	}
	if node.State == types.NodeStateDecommissioned {
		// Decommission is sticky; the heartbeat still refreshes stats so
		// operators see the node draining.
		node.LastHeartbeat = now
	} else {
		node.State = types.NodeStateActive
		node.LastHeartbeat = now
	}
	node.Host = hb.Host
	node.Port = hb.Port
	if hb.Rack != "" {
		node.Rack = hb.Rack
	}
	node.FreeSpace = hb.FreeSpace
	node.TotalSpace = hb.TotalSpace
	node.ChunkCount = len(hb.ChunkIDs)

	// Node identity is journaled; the placement sync below is not. The
	// next heartbeat after a replay re-establishes it within one period.
	cp := *node
	if err := s.journalOp(opNodeUpsert, now, &cp); err != nil {
		return err
	}
	s.applyNodeUpsert(node)

	// The report is the truth: placements follow the inventory exactly.
	url := node.URL()
	newSet := make(map[uuid.UUID]struct{}, len(hb.ChunkIDs))
	for _, chunkID := range hb.ChunkIDs {
		fileID, known := s.chunks[chunkID]
		if !known {
			continue // orphan bytes; the worker's reconciliation owns them
		}
		newSet[chunkID] = struct{}{}
		f := s.files[fileID]
		c := f.Chunk(chunkID)
		if c == nil {
			continue
		}
		seen := now
		if r := c.Replica(hb.NodeID); r != nil {
			r.State = types.ChunkStateCommitted
			r.URL = url
			r.LastSeen = &seen
			r.ChecksumVerified = true
		} else {
			c.Replicas = append(c.Replicas, types.ReplicaInfo{
				NodeID:           hb.NodeID,
				URL:              url,
				State:            types.ChunkStateCommitted,
				LastSeen:         &seen,
				ChecksumVerified: true,
			})
		}
	}

	for chunkID := range s.reportedSet(hb.NodeID) {
		if _, still := newSet[chunkID]; still {
			continue
		}
		s.applyReplicaRemove(chunkID, hb.NodeID)
	}
	// Pending placements (from publish or repair) are not in the reported
	// set yet; the report is authoritative for them too.
	for _, f := range s.files {
		for i := range f.Chunks {
			c := &f.Chunks[i]
			if _, still := newSet[c.ChunkID]; !still && c.Replica(hb.NodeID) != nil {
				s.applyReplicaRemove(c.ChunkID, hb.NodeID)
			}
		}
	}
	s.reported[hb.NodeID] = newSet
	return nil
}

func (s *Store) applyNodeUpsert(node *types.NodeInfo) {
	s.nodes[node.NodeID] = node
}

func (s *Store) AddPendingReplica(chunkID uuid.UUID, replica types.ReplicaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[chunkID]; !ok {
		return fmt.Errorf("chunk %s: %w", chunkID, types.ErrNotFound)
	}
	if err := s.journalOp(opReplicaAdd, time.Now().UTC(), &replicaAddPayload{ChunkID: chunkID, Replica: replica}); err != nil {
		return err
	}
	s.applyReplicaAdd(chunkID, replica)
	return nil
}

func (s *Store) applyReplicaAdd(chunkID uuid.UUID, replica types.ReplicaInfo) {
	fileID, ok := s.chunks[chunkID]
	if !ok {
		return
	}
	c := s.files[fileID].Chunk(chunkID)
	if c == nil {
		return
	}
	if r := c.Replica(replica.NodeID); r != nil {
		*r = replica
		return
	}
	c.Replicas = append(c.Replicas, replica)
}

func (s *Store) RemoveReplica(chunkID uuid.UUID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[chunkID]; !ok {
		return nil
	}
	if err := s.journalOp(opReplicaRemove, time.Now().UTC(), &replicaRemovePayload{ChunkID: chunkID, NodeID: nodeID}); err != nil {
		return err
	}
	s.applyReplicaRemove(chunkID, nodeID)
	return nil
}

func (s *Store) applyReplicaRemove(chunkID uuid.UUID, nodeID string) {
	fileID, ok := s.chunks[chunkID]
	if !ok {
		return
	}
	c := s.files[fileID].Chunk(chunkID)
	if c == nil {
		return
	}
	for i := range c.Replicas {
		if c.Replicas[i].NodeID == nodeID {
			c.Replicas = append(c.Replicas[:i], c.Replicas[i+1:]...)
			break
		}
	}
	if set, ok := s.reported[nodeID]; ok {
		delete(set, chunkID)
	}
}

func (s *Store) GetNode(nodeID string) (*types.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", nodeID, types.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (s *Store) ListNodes() []*types.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sortNodes(out)
	return out
}

func (s *Store) SetNodeState(nodeID string, state types.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[nodeID]; !ok {
		return fmt.Errorf("node %q: %w", nodeID, types.ErrNotFound)
	}
	if err := s.journalOp(opNodeState, time.Now().UTC(), &nodeStatePayload{NodeID: nodeID, State: state}); err != nil {
		return err
	}
	s.applyNodeState(nodeID, state)
	return nil
}

func (s *Store) applyNodeState(nodeID string, state types.NodeState) {
	if n, ok := s.nodes[nodeID]; ok {
		n.State = state
	}
}

func (s *Store) MarkDead(deadline time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flagged []string
	for _, n := range s.nodes {
		if n.State == types.NodeStateActive && n.LastHeartbeat.Before(deadline) {
			// Liveness is derived state: not journaled, re-derived by the
			// scanner after a restart.
			n.State = types.NodeStateInactive
			flagged = append(flagged, n.NodeID)
		}
	}
	return flagged
}

func (s *Store) CommittedChunks(fn func(file *types.FileRecord, chunk *types.ChunkRecord) bool) {
	s.mu.RLock()
	snapshot := make([]*types.FileRecord, 0, len(s.files))
	s.byPath.Ascend(func(e pathEntry) bool {
		snapshot = append(snapshot, cloneFile(s.files[e.fileID]))
		return true
	})
	s.mu.RUnlock()

	for _, f := range snapshot {
		for i := range f.Chunks {
			if !fn(f, &f.Chunks[i]) {
				return
			}
		}
	}
}

func (s *Store) Stats() types.SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.SystemStats{TotalNodes: len(s.nodes)}
	s.byPath.Ascend(func(e pathEntry) bool {
		f := s.files[e.fileID]
		stats.TotalFiles++
		stats.TotalChunks += len(f.Chunks)
		stats.TotalBytes += f.Size
		return true
	})
	for _, n := range s.nodes {
		if n.State == types.NodeStateActive {
			stats.ActiveNodes++
		}
		stats.FreeSpace += n.FreeSpace
		stats.TotalSpace += n.TotalSpace
	}
	return stats
}

// --- helpers ----------------------------------------------------------

func cloneFile(f *types.FileRecord) *types.FileRecord {
	if f == nil {
		return nil
	}
	cp := *f
	if f.DeletedAt != nil {
		at := *f.DeletedAt
		cp.DeletedAt = &at
	}
	cp.Chunks = make([]types.ChunkRecord, len(f.Chunks))
	for i := range f.Chunks {
		c := f.Chunks[i]
		replicas := make([]types.ReplicaInfo, len(c.Replicas))
		for j, r := range c.Replicas {
			if r.LastSeen != nil {
				seen := *r.LastSeen
				r.LastSeen = &seen
			}
			replicas[j] = r
		}
		c.Replicas = replicas
		cp.Chunks[i] = c
	}
	return &cp
}

func cloneSession(sess *types.UploadSession) *types.UploadSession {
	if sess == nil {
		return nil
	}
	cp := *sess
	cp.Chunks = make([]types.SessionChunk, len(sess.Chunks))
	for i, c := range sess.Chunks {
		targets := make([]string, len(c.Targets))
		copy(targets, c.Targets)
		c.Targets = targets
		cp.Chunks[i] = c
	}
	return &cp
}

func sortNodes(nodes []*types.NodeInfo) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
}
