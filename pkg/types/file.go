// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/google/uuid"
)

// ChunkSize is the default size for data chunks (64MB).
// The coordinator's configured value is authoritative; clients must
// slice with whatever upload-init returns.
const ChunkSize = 64 * 1024 * 1024

// ChunkState is the lifecycle state of a single replica placement.
type ChunkState string

const (
	ChunkStatePending   ChunkState = "pending"
	ChunkStateCommitted ChunkState = "committed"
	ChunkStateCorrupted ChunkState = "corrupted"
	ChunkStateDeleted   ChunkState = "deleted"
)

// ReplicaInfo asserts that a specific worker holds a specific chunk.
type ReplicaInfo struct {
	NodeID           string     `json:"node_id"`
	URL              string     `json:"url"`
	State            ChunkState `json:"state"`
	LastSeen         *time.Time `json:"last_heartbeat,omitempty"`
	ChecksumVerified bool       `json:"checksum_verified"`
}

// ChunkRecord is one chunk of a file. Checksum is the lowercase hex
// SHA-256 of the chunk bytes, immutable once set at commit.
type ChunkRecord struct {
	ChunkID  uuid.UUID     `json:"chunk_id"`
	SeqIndex int           `json:"seq_index"`
	Size     int64         `json:"size"`
	Checksum string        `json:"checksum,omitempty"`
	Replicas []ReplicaInfo `json:"replicas"`
}

// Replica returns the placement on nodeID, or nil.
func (c *ChunkRecord) Replica(nodeID string) *ReplicaInfo {
	for i := range c.Replicas {
		if c.Replicas[i].NodeID == nodeID {
			return &c.Replicas[i]
		}
	}
	return nil
}

// FileRecord is the metadata for one logical path. Files are write-once:
// a record is created provisionally at upload-init, published at commit,
// and soft-deleted on delete.
type FileRecord struct {
	FileID     uuid.UUID     `json:"file_id"`
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
	Chunks     []ChunkRecord `json:"chunks"`
	IsDeleted  bool          `json:"is_deleted"`
	DeletedAt  *time.Time    `json:"deleted_at,omitempty"`

	// Client-supplied, opaque to the core.
	Compressed   bool  `json:"compressed,omitempty"`
	OriginalSize int64 `json:"original_size,omitempty"`
}

// Chunk returns the chunk with the given id, or nil.
func (f *FileRecord) Chunk(id uuid.UUID) *ChunkRecord {
	for i := range f.Chunks {
		if f.Chunks[i].ChunkID == id {
			return &f.Chunks[i]
		}
	}
	return nil
}

// ChunkCount computes ceil(size/chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}
