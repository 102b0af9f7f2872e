// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
	"github.com/driftlabs/driftfs/pkg/worker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunkStore(t *testing.T) (*worker.ChunkStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := worker.NewChunkStore(root)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, root
}

func readAll(t *testing.T, s *worker.ChunkStore, id uuid.UUID) ([]byte, worker.ChunkMeta) {
	t.Helper()
	rc, meta, err := s.Open(id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, meta
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	id := uuid.New()
	payload := bytes.Repeat([]byte{0xAB, 0xCD}, 4096)

	meta, err := s.Put(id, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), meta.Size)
	assert.Equal(t, utils.Sha256Hex(payload), meta.Checksum)

	got, gotMeta := readAll(t, s, id)
	assert.Equal(t, payload, got)
	assert.Equal(t, meta.Checksum, gotMeta.Checksum)

	// Both files exist; sidecar holds the digest.
	raw, err := os.ReadFile(filepath.Join(root, id.String()+".sha256"))
	require.NoError(t, err)
	assert.Equal(t, meta.Checksum, string(raw))
}

func TestPutIsImmutable(t *testing.T) {
	t.Parallel()

	s, _ := newChunkStore(t)
	id := uuid.New()
	original := []byte("original bytes")

	first, err := s.Put(id, bytes.NewReader(original))
	require.NoError(t, err)

	// Identical repeat is a no-op.
	second, err := s.Put(id, bytes.NewReader(original))
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.Checksum)

	// Differing bytes do not replace the stored chunk.
	third, err := s.Put(id, bytes.NewReader([]byte("different bytes")))
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, third.Checksum)

	got, _ := readAll(t, s, id)
	assert.Equal(t, original, got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newChunkStore(t)
	id := uuid.New()
	_, err := s.Put(id, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	require.NoError(t, s.Delete(id))

	_, _, err = s.Open(id)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, s.Inventory())
}

func TestCorruptionQuarantinesOnRead(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	id := uuid.New()
	_, err := s.Put(id, bytes.NewReader(bytes.Repeat([]byte("good"), 100)))
	require.NoError(t, err)

	// Flip bytes behind the store's back.
	chunkPath := filepath.Join(root, id.String()+".chunk")
	require.NoError(t, os.WriteFile(chunkPath, bytes.Repeat([]byte("evil"), 100), 0644))

	rc, _, err := s.Open(id)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	rc.Close()
	assert.ErrorIs(t, err, types.ErrCorrupted)

	// Quarantined: dropped from inventory, files renamed .bad.
	assert.Empty(t, s.Inventory())
	_, statErr := os.Stat(chunkPath + ".bad")
	assert.NoError(t, statErr)
	_, _, err = s.Open(id)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestScanIgnoresChunkWithoutSidecar(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	id := uuid.New()
	_, err := s.Put(id, bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	// A crash between the two renames leaves a chunk with no sidecar.
	orphan := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(root, orphan.String()+".chunk"), []byte("halfway"), 0644))

	require.NoError(t, s.ScanDisk())

	inv := s.Inventory()
	require.Len(t, inv, 1)
	assert.Equal(t, id, inv[0])
}

func TestScanExcludesSizeMismatch(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	id := uuid.New()
	_, err := s.Put(id, bytes.NewReader([]byte("sized payload")))
	require.NoError(t, err)

	// Truncate behind the store's back; the recorded size no longer
	// matches and the chunk must leave reports.
	require.NoError(t, os.Truncate(filepath.Join(root, id.String()+".chunk"), 3))
	require.NoError(t, s.ScanDisk())

	assert.Empty(t, s.Inventory())
}

func TestScanAdoptsIndexlessChunk(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	payload := []byte("adopted bytes")
	id := uuid.New()

	// Chunk pair written out-of-band (e.g. restored from backup).
	require.NoError(t, os.WriteFile(filepath.Join(root, id.String()+".chunk"), payload, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, id.String()+".sha256"), []byte(utils.Sha256Hex(payload)), 0644))

	require.NoError(t, s.ScanDisk())

	got, meta := readAll(t, s, id)
	assert.Equal(t, payload, got)
	assert.Equal(t, utils.Sha256Hex(payload), meta.Checksum)
}

func TestScrubQuarantinesBitRot(t *testing.T) {
	t.Parallel()

	s, root := newChunkStore(t)
	good := uuid.New()
	bad := uuid.New()
	_, err := s.Put(good, bytes.NewReader([]byte("intact")))
	require.NoError(t, err)
	_, err = s.Put(bad, bytes.NewReader([]byte("rotting")))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, bad.String()+".chunk"), []byte("rotted!"), 0644))

	checked, corrupted := s.Scrub()
	assert.Equal(t, 2, checked)
	assert.Equal(t, 1, corrupted)

	inv := s.Inventory()
	require.Len(t, inv, 1)
	assert.Equal(t, good, inv[0])
}

func TestInventorySurvivesRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := worker.NewChunkStore(root)
	require.NoError(t, err)

	id := uuid.New()
	payload := []byte("persistent payload")
	put, err := s.Put(id, bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := worker.NewChunkStore(root)
	require.NoError(t, err)
	defer reopened.Close()

	meta, ok := reopened.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, put.Checksum, meta.Checksum)
	assert.Equal(t, put.Size, meta.Size)

	count, bytesHeld := reopened.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(len(payload)), bytesHeld)
}
