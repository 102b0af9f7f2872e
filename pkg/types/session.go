package types

import (
	"time"

	"github.com/google/uuid"
)

// SessionChunk is the plan for one chunk of an upload session: the id the
// client must PUT and the replica targets chosen by placement.
type SessionChunk struct {
	ChunkID uuid.UUID `json:"chunk_id"`
	Size    int64     `json:"size"`
	Targets []string  `json:"targets"`
}

// UploadSession binds a provisional file id to a chunk plan until commit
// or timeout.
type UploadSession struct {
	FileID    uuid.UUID      `json:"file_id"`
	Path      string         `json:"path"`
	Size      int64          `json:"size"`
	ChunkSize int64          `json:"chunk_size"`
	Chunks    []SessionChunk `json:"chunks"`
	CreatedAt time.Time      `json:"created_at"`
	Overwrite bool           `json:"overwrite"`
}

// Expired reports whether the session is older than ttl at now.
func (s *UploadSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}
