// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package meta_test

import (
	"testing"
	"time"

	"github.com/driftlabs/driftfs/pkg/meta"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *meta.Store {
	t.Helper()
	s, err := meta.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func provision(t *testing.T, s *meta.Store, path string, overwrite bool, chunkSizes ...int64) (*types.FileRecord, *types.UploadSession) {
	t.Helper()

	now := time.Now().UTC()
	fileID := uuid.New()
	var total int64
	var records []types.ChunkRecord
	var sessChunks []types.SessionChunk
	for i, size := range chunkSizes {
		id := uuid.New()
		records = append(records, types.ChunkRecord{ChunkID: id, SeqIndex: i, Size: size})
		sessChunks = append(sessChunks, types.SessionChunk{ChunkID: id, Size: size, Targets: []string{"http://w1:8001"}})
		total += size
	}

	file := &types.FileRecord{
		FileID:     fileID,
		Path:       path,
		Size:       total,
		CreatedAt:  now,
		ModifiedAt: now,
		Chunks:     records,
	}
	sess := &types.UploadSession{
		FileID:    fileID,
		Path:      path,
		Size:      total,
		ChunkSize: 1024,
		Chunks:    sessChunks,
		CreatedAt: now,
		Overwrite: overwrite,
	}
	require.NoError(t, s.PutProvisional(file, sess))
	return file, sess
}

func commitAll(t *testing.T, s *meta.Store, file *types.FileRecord, nodes ...string) *types.FileRecord {
	t.Helper()

	infos := make([]types.ChunkCommitInfo, len(file.Chunks))
	for i, c := range file.Chunks {
		infos[i] = types.ChunkCommitInfo{ChunkID: c.ChunkID, Checksum: "deadbeef", Nodes: nodes}
	}
	published, err := s.PublishFile(file.FileID, infos, time.Now().UTC())
	require.NoError(t, err)
	return published
}

func TestProvisionalInvisibleUntilPublish(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	file, _ := provision(t, s, "/a", false, 100)

	_, err := s.GetFileByPath("/a")
	assert.ErrorIs(t, err, types.ErrNotFound)

	files, err := s.ListFiles("", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	published := commitAll(t, s, file, "w1")
	assert.Equal(t, "/a", published.Path)

	got, err := s.GetFileByPath("/a")
	require.NoError(t, err)
	assert.Equal(t, file.FileID, got.FileID)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "deadbeef", got.Chunks[0].Checksum)
	require.Len(t, got.Chunks[0].Replicas, 1)
	assert.Equal(t, types.ChunkStatePending, got.Chunks[0].Replicas[0].State)
}

func TestPathConflict(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	file, _ := provision(t, s, "/c", false, 10)
	commitAll(t, s, file, "w1")

	now := time.Now().UTC()
	dup := &types.FileRecord{FileID: uuid.New(), Path: "/c", CreatedAt: now, ModifiedAt: now}
	sess := &types.UploadSession{FileID: dup.FileID, Path: "/c", CreatedAt: now}
	assert.ErrorIs(t, s.PutProvisional(dup, sess), types.ErrPathConflict)

	// The same write with the overwrite flag is allowed.
	sess.Overwrite = true
	assert.NoError(t, s.PutProvisional(dup, sess))
}

func TestOverwritePublishRetiresOldRecord(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	first, _ := provision(t, s, "/c", false, 10)
	commitAll(t, s, first, "w1")

	second, _ := provision(t, s, "/c", true, 20)
	commitAll(t, s, second, "w2")

	got, err := s.GetFileByPath("/c")
	require.NoError(t, err)
	assert.Equal(t, second.FileID, got.FileID)

	// Exactly one live record for the path.
	files, err := s.ListFiles("/c", 0, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, second.FileID, files[0].FileID)

	// The old record is soft-deleted, not purged.
	deleted := s.DeletedBefore(time.Now().Add(time.Minute))
	require.Len(t, deleted, 1)
	assert.Equal(t, first.FileID, deleted[0].FileID)
}

func TestCommitValidation(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	file, _ := provision(t, s, "/v", false, 10, 10)

	// Zero reporting nodes fails.
	infos := []types.ChunkCommitInfo{
		{ChunkID: file.Chunks[0].ChunkID, Checksum: "aa", Nodes: []string{"w1"}},
		{ChunkID: file.Chunks[1].ChunkID, Checksum: "bb", Nodes: nil},
	}
	_, err := s.PublishFile(file.FileID, infos, time.Now())
	assert.ErrorIs(t, err, meta.ErrInvalidCommit)

	// A chunk missing from the commit fails.
	_, err = s.PublishFile(file.FileID, infos[:1], time.Now())
	assert.ErrorIs(t, err, meta.ErrInvalidCommit)

	// A chunk outside the plan fails.
	bad := append(infos[:1], types.ChunkCommitInfo{ChunkID: uuid.New(), Checksum: "cc", Nodes: []string{"w1"}})
	_, err = s.PublishFile(file.FileID, bad, time.Now())
	assert.ErrorIs(t, err, meta.ErrInvalidCommit)

	// Unknown session fails as expired.
	_, err = s.PublishFile(uuid.New(), nil, time.Now())
	assert.ErrorIs(t, err, types.ErrSessionExpired)
}

func TestListFilesPrefixAndPagination(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	for _, p := range []string{"/logs/a", "/logs/b", "/logs/c", "/media/x"} {
		f, _ := provision(t, s, p, false, 1)
		commitAll(t, s, f, "w1")
	}

	files, err := s.ListFiles("/logs/", 0, 0)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "/logs/a", files[0].Path)
	assert.Equal(t, "/logs/c", files[2].Path)

	page, err := s.ListFiles("/logs/", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "/logs/b", page[0].Path)

	all, err := s.ListFiles("", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSoftDeleteFreesPath(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	f, _ := provision(t, s, "/d", false, 1)
	commitAll(t, s, f, "w1")

	_, err := s.SoftDeleteFile("/d", time.Now().UTC())
	require.NoError(t, err)

	_, err = s.GetFileByPath("/d")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Path is free for a fresh upload without overwrite.
	f2, _ := provision(t, s, "/d", false, 2)
	commitAll(t, s, f2, "w1")
	got, err := s.GetFileByPath("/d")
	require.NoError(t, err)
	assert.Equal(t, f2.FileID, got.FileID)
}

func TestHeartbeatInventoryIsAuthoritative(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	f, _ := provision(t, s, "/hb", false, 1, 1, 1)
	commitAll(t, s, f, "w1")

	x, y, z := f.Chunks[0].ChunkID, f.Chunks[1].ChunkID, f.Chunks[2].ChunkID
	now := time.Now().UTC()

	// First report: worker holds X, Y, Z.
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{
		NodeID: "w1", Host: "h", Port: 1,
		FreeSpace: 100, TotalSpace: 200,
		ChunkIDs: []uuid.UUID{x, y, z},
	}, now))

	got, err := s.GetFileByPath("/hb")
	require.NoError(t, err)
	for _, c := range got.Chunks {
		rep := c.Replica("w1")
		require.NotNil(t, rep)
		assert.Equal(t, types.ChunkStateCommitted, rep.State)
	}

	// Second report drops Z: the replica set must follow.
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{
		NodeID: "w1", Host: "h", Port: 1,
		FreeSpace: 100, TotalSpace: 200,
		ChunkIDs: []uuid.UUID{x, y},
	}, now.Add(time.Second)))

	got, err = s.GetFileByPath("/hb")
	require.NoError(t, err)
	assert.NotNil(t, got.Chunks[0].Replica("w1"))
	assert.NotNil(t, got.Chunks[1].Replica("w1"))
	assert.Nil(t, got.Chunks[2].Replica("w1"), "replica for dropped chunk %s must be gone", z)

	node, err := s.GetNode("w1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateActive, node.State)
	assert.Equal(t, 2, node.ChunkCount)
}

func TestMarkDeadAndReactivate(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{NodeID: "w1", Host: "h", Port: 1}, now.Add(-time.Minute)))
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{NodeID: "w2", Host: "h", Port: 2}, now))

	flagged := s.MarkDead(now.Add(-30 * time.Second))
	assert.Equal(t, []string{"w1"}, flagged)

	n1, _ := s.GetNode("w1")
	assert.Equal(t, types.NodeStateInactive, n1.State)

	// Next heartbeat brings it back.
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{NodeID: "w1", Host: "h", Port: 1}, now))
	n1, _ = s.GetNode("w1")
	assert.Equal(t, types.NodeStateActive, n1.State)
}

func TestSessionExpiryAndDrop(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	f, sess := provision(t, s, "/exp", false, 1)

	expired := s.ExpiredSessions(time.Now().Add(time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, sess.FileID, expired[0].FileID)

	require.NoError(t, s.DropSession(f.FileID))

	_, ok := s.GetSession(f.FileID)
	assert.False(t, ok)
	_, err := s.GetFileByPath("/exp")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Commit after the drop fails as expired.
	_, err = s.PublishFile(f.FileID, nil, time.Now())
	assert.ErrorIs(t, err, types.ErrSessionExpired)
}

func TestPurgeFileClearsChunkIndex(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	f, _ := provision(t, s, "/purge", false, 1)
	commitAll(t, s, f, "w1")

	_, err := s.SoftDeleteFile("/purge", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.PurgeFile(f.FileID))

	assert.Empty(t, s.DeletedBefore(time.Now().Add(time.Hour)))
	assert.ErrorIs(t, s.AddPendingReplica(f.Chunks[0].ChunkID, types.ReplicaInfo{NodeID: "w9"}), types.ErrNotFound)
}

func TestStats(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	f, _ := provision(t, s, "/stats", false, 10, 20)
	commitAll(t, s, f, "w1")
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{NodeID: "w1", Host: "h", Port: 1, FreeSpace: 50, TotalSpace: 100}, time.Now()))

	st := s.Stats()
	assert.Equal(t, 1, st.TotalFiles)
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, int64(30), st.TotalBytes)
	assert.Equal(t, 1, st.TotalNodes)
	assert.Equal(t, 1, st.ActiveNodes)
}
