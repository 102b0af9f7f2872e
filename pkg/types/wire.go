// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/google/uuid"
)

// Request and response bodies for the coordinator and worker HTTP APIs.
// All JSON is validated at the boundary; handlers never work on raw maps.

// UploadInitRequest starts a three-phase upload.
type UploadInitRequest struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Overwrite bool   `json:"overwrite,omitempty"`

	// Opaque client hints, stored verbatim on the FileRecord.
	Compressed   bool  `json:"compressed,omitempty"`
	OriginalSize int64 `json:"original_size,omitempty"`
}

// UploadInitResponse is the session plan. ChunkSize is authoritative:
// the client must slice with it regardless of any local default.
type UploadInitResponse struct {
	FileID    uuid.UUID      `json:"file_id"`
	ChunkSize int64          `json:"chunk_size"`
	Chunks    []SessionChunk `json:"chunks"`
}

// ChunkCommitInfo reports one uploaded chunk at commit time.
type ChunkCommitInfo struct {
	ChunkID  uuid.UUID `json:"chunk_id"`
	Checksum string    `json:"checksum"`
	Nodes    []string  `json:"nodes"`
}

type CommitRequest struct {
	FileID uuid.UUID         `json:"file_id"`
	Chunks []ChunkCommitInfo `json:"chunks"`
}

type CommitResponse struct {
	Status string    `json:"status"`
	FileID uuid.UUID `json:"file_id"`
}

type DeleteResponse struct {
	Status    string `json:"status"`
	Path      string `json:"path"`
	Permanent bool   `json:"permanent"`
}

// HeartbeatRequest is a worker's periodic liveness and inventory report.
// The reported chunk set is authoritative for that worker's placements.
type HeartbeatRequest struct {
	NodeID     string      `json:"node_id"`
	Host       string      `json:"host"`
	Port       int         `json:"port"`
	Rack       string      `json:"rack,omitempty"`
	FreeSpace  int64       `json:"free_space"`
	TotalSpace int64       `json:"total_space"`
	ChunkIDs   []uuid.UUID `json:"chunk_ids"`
}

type HeartbeatResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ChunkPutResponse is a worker's answer to a chunk PUT, including every
// node that acknowledged the write during pipeline fan-out.
type ChunkPutResponse struct {
	Status   string    `json:"status"`
	ChunkID  uuid.UUID `json:"chunk_id"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	NodeID   string    `json:"node_id"`
	Nodes    []string  `json:"nodes"`
}

type ChunkDeleteResponse struct {
	Status  string    `json:"status"`
	ChunkID uuid.UUID `json:"chunk_id"`
}

// ReplicateRequest asks a worker to copy one of its chunks to a peer.
type ReplicateRequest struct {
	ChunkID        uuid.UUID `json:"chunk_id"`
	DestinationURL string    `json:"destination_url"`
}

type ReplicateResponse struct {
	Status  string    `json:"status"`
	ChunkID uuid.UUID `json:"chunk_id"`
	Nodes   []string  `json:"nodes"`
}

type LeaseRequest struct {
	Path           string `json:"path"`
	Operation      string `json:"operation"`
	ClientID       string `json:"client_id,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type LeaseReleaseRequest struct {
	LeaseID uuid.UUID `json:"lease_id"`
	Path    string    `json:"path,omitempty"`
}

// ErrorResponse is the uniform error payload of both HTTP APIs.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// SystemStats is the aggregate view served by /api/v1/stats.
type SystemStats struct {
	TotalFiles    int   `json:"total_files"`
	TotalChunks   int   `json:"total_chunks"`
	TotalBytes    int64 `json:"total_bytes"`
	TotalNodes    int   `json:"total_nodes"`
	ActiveNodes   int   `json:"active_nodes"`
	FreeSpace     int64 `json:"free_space"`
	TotalSpace    int64 `json:"total_space"`
	ActiveLeases  int   `json:"active_leases"`
	RepairBacklog int   `json:"repair_backlog"`
}
