// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package meta provides the coordinator's metadata store: the namespace,
// the file -> chunk -> replica index, and the worker registry. The
// reference implementation is in-memory behind a single writer lock,
// journaled to a write-ahead log so a restart replays to the same state.
// Alternate backends implement the same DB interface.
package meta

import (
	"io"
	"time"

	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// DB is the metadata store interface. All mutations are serialized by
// the implementation; reads observe a consistent snapshot.
type DB interface {
	io.Closer

	// PutProvisional records a provisional file and its upload session.
	// The file stays invisible to ListFiles/GetFileByPath until publish.
	// Fails with types.ErrPathConflict when a live published file holds
	// the path and the session does not carry the overwrite flag.
	PutProvisional(file *types.FileRecord, sess *types.UploadSession) error

	// GetSession returns the session for a provisional file id.
	GetSession(fileID uuid.UUID) (*types.UploadSession, bool)

	// DropSession abandons a session and purges its provisional record.
	DropSession(fileID uuid.UUID) error

	// ExpiredSessions lists sessions created before cutoff.
	ExpiredSessions(cutoff time.Time) []*types.UploadSession

	// PublishFile commits a provisional file: stores the per-chunk
	// checksums, records one pending placement per reporting node,
	// soft-deletes any published file occupying the same path, and
	// destroys the session.
	PublishFile(fileID uuid.UUID, chunks []types.ChunkCommitInfo, now time.Time) (*types.FileRecord, error)

	// GetFileByPath returns the published, non-deleted record at path.
	GetFileByPath(path string) (*types.FileRecord, error)

	// ListFiles returns published, non-deleted records whose path has
	// the given prefix, ordered by path. limit<=0 means no limit.
	ListFiles(prefix string, limit, offset int) ([]*types.FileRecord, error)

	// SoftDeleteFile marks the published record at path deleted.
	SoftDeleteFile(path string, now time.Time) (*types.FileRecord, error)

	// PurgeFile removes a record and its chunk index entries entirely.
	PurgeFile(fileID uuid.UUID) error

	// DeletedBefore lists soft-deleted records whose deletion time is
	// older than cutoff.
	DeletedBefore(cutoff time.Time) []*types.FileRecord

	// SyncNode applies a heartbeat: upserts the worker record and makes
	// its placement set equal to the reported inventory. The report is
	// authoritative; placements absent from it are removed, reported
	// chunks gain a committed placement.
	SyncNode(hb *types.HeartbeatRequest, now time.Time) error

	// AddPendingReplica records a pending placement for a chunk, to be
	// promoted by the owning worker's next heartbeat.
	AddPendingReplica(chunkID uuid.UUID, replica types.ReplicaInfo) error

	// RemoveReplica drops a placement (rebalance source deletion).
	RemoveReplica(chunkID uuid.UUID, nodeID string) error

	// GetNode returns a worker record by id.
	GetNode(nodeID string) (*types.NodeInfo, error)

	// ListNodes returns all worker records, ordered by id.
	ListNodes() []*types.NodeInfo

	// SetNodeState transitions a worker (admin decommission, liveness).
	SetNodeState(nodeID string, state types.NodeState) error

	// MarkDead flags active workers whose last heartbeat predates
	// deadline as inactive; returns the ids flagged.
	MarkDead(deadline time.Time) []string

	// CommittedChunks iterates every chunk of every published file,
	// stopping early when fn returns false.
	CommittedChunks(fn func(file *types.FileRecord, chunk *types.ChunkRecord) bool)

	// Stats aggregates counts for the stats endpoint.
	Stats() types.SystemStats
}
