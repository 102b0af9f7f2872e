// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package index_test

import (
	"path/filepath"
	"testing"

	"github.com/driftlabs/driftfs/pkg/storage/index"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkEntry struct {
	Size     int64
	Checksum string
}

func newLevelDB(t *testing.T) index.Indexer[uuid.UUID, chunkEntry] {
	t.Helper()
	idx, err := index.NewLevelDBIndexer[uuid.UUID, chunkEntry](
		filepath.Join(t.TempDir(), "idx"), nil,
		func(k uuid.UUID) []byte { return k[:] },
		func(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) },
	)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestLevelDBPutGetDelete(t *testing.T) {
	t.Parallel()

	idx := newLevelDB(t)
	id := uuid.New()

	require.NoError(t, idx.PutSync(id, chunkEntry{Size: 42, Checksum: "abc"}))

	got, err := idx.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, "abc", got.Checksum)

	require.NoError(t, idx.DeleteSync(id))
	_, err = idx.Get(id)
	assert.Error(t, err)
}

func TestLevelDBIterate(t *testing.T) {
	t.Parallel()

	idx := newLevelDB(t)
	want := map[uuid.UUID]int64{}
	for i := int64(1); i <= 5; i++ {
		id := uuid.New()
		want[id] = i
		require.NoError(t, idx.Put(id, chunkEntry{Size: i}))
	}
	require.NoError(t, idx.Sync())

	got := map[uuid.UUID]int64{}
	require.NoError(t, idx.Iterate(func(k uuid.UUID, v chunkEntry) error {
		got[k] = v.Size
		return nil
	}))
	assert.Equal(t, want, got)
}

func TestLevelDBSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "idx")
	key := func(k uuid.UUID) []byte { return k[:] }
	fromKey := func(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) }

	idx, err := index.NewLevelDBIndexer[uuid.UUID, chunkEntry](dir, nil, key, fromKey)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, idx.PutSync(id, chunkEntry{Size: 7, Checksum: "persist"}))
	require.NoError(t, idx.Close())

	reopened, err := index.NewLevelDBIndexer[uuid.UUID, chunkEntry](dir, nil, key, fromKey)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Checksum)
}

func TestMemoryIndexerMatchesInterface(t *testing.T) {
	t.Parallel()

	idx, err := index.NewMemoryIndexer[string, int]()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put("a", 1))
	got, err := idx.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	require.NoError(t, idx.Delete("a"))
	_, err = idx.Get("a")
	assert.Error(t, err)
}
