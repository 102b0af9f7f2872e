// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package meta_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftlabs/driftfs/pkg/meta"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournaled(t *testing.T, path string) *meta.Store {
	t.Helper()
	s, err := meta.Open(path)
	require.NoError(t, err)
	return s
}

func TestJournalReplayRebuildsState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coordinator.wal")

	s := openJournaled(t, path)
	f, _ := provision(t, s, "/wal/a", false, 100, 28)
	commitAll(t, s, f, "w1", "w2")
	want, err := s.GetFileByPath("/wal/a")
	require.NoError(t, err)
	g, _ := provision(t, s, "/wal/b", false, 5)
	commitAll(t, s, g, "w1")
	_, err = s.SoftDeleteFile("/wal/b", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.SyncNode(&types.HeartbeatRequest{NodeID: "w1", Host: "h", Port: 1, FreeSpace: 1, TotalSpace: 2}, time.Now()))
	require.NoError(t, s.Close())

	// A fresh store replaying the same journal sees identical state.
	r := openJournaled(t, path)
	defer r.Close()

	got, err := r.GetFileByPath("/wal/a")
	require.NoError(t, err)
	assert.Equal(t, f.FileID, got.FileID)
	assert.Equal(t, int64(128), got.Size)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, "deadbeef", got.Chunks[0].Checksum)
	if diff := cmp.Diff(want.Chunks, got.Chunks); diff != "" {
		t.Errorf("replayed chunks diverge (-want +got):\n%s", diff)
	}

	_, err = r.GetFileByPath("/wal/b")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Len(t, r.DeletedBefore(time.Now().Add(time.Hour)), 1)

	node, err := r.GetNode("w1")
	require.NoError(t, err)
	assert.Equal(t, "h", node.Host)
}

func TestJournalReplayKeepsSessions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coordinator.wal")

	s := openJournaled(t, path)
	f, _ := provision(t, s, "/wal/pending", false, 10)
	require.NoError(t, s.Close())

	r := openJournaled(t, path)
	defer r.Close()

	sess, ok := r.GetSession(f.FileID)
	require.True(t, ok, "provisional session must survive restart")
	assert.Equal(t, "/wal/pending", sess.Path)

	// The provisional record stays hidden and can still be committed.
	_, err := r.GetFileByPath("/wal/pending")
	assert.ErrorIs(t, err, types.ErrNotFound)
	commitAll(t, r, f, "w1")
	_, err = r.GetFileByPath("/wal/pending")
	assert.NoError(t, err)
}

func TestCheckpointCompactsJournal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coordinator.wal")

	s := openJournaled(t, path)
	for _, p := range []string{"/cp/a", "/cp/b", "/cp/c"} {
		f, _ := provision(t, s, p, false, 1)
		commitAll(t, s, f, "w1")
	}

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint(time.Now().UTC()))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size(), "snapshot must shrink the journal")

	// Mutations after a checkpoint still land and replay.
	f, _ := provision(t, s, "/cp/d", false, 1)
	commitAll(t, s, f, "w1")
	require.NoError(t, s.Close())

	r := openJournaled(t, path)
	defer r.Close()
	files, err := r.ListFiles("/cp/", 0, 0)
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestReplayToleratesTornTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "coordinator.wal")

	s := openJournaled(t, path)
	f, _ := provision(t, s, "/torn", false, 1)
	commitAll(t, s, f, "w1")
	require.NoError(t, s.Close())

	// Simulate a crash mid-append: garbage on the final line.
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = fh.WriteString(`{"op":"publish","at":`)
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	r, err := meta.Open(path)
	require.NoError(t, err, "torn tail must not poison replay")
	defer r.Close()

	_, err = r.GetFileByPath("/torn")
	assert.NoError(t, err)
}
