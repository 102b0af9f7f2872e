// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the storage worker: a content chunk store
// addressed by chunk id, a heartbeat emitter reporting its inventory,
// and HTTP endpoints for chunk transfer and peer replication.
package worker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/storage/index"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"

	"github.com/google/uuid"
)

const (
	chunkSuffix    = ".chunk"
	checksumSuffix = ".sha256"
	tmpSuffix      = ".tmp"
	badSuffix      = ".bad"
)

// ChunkMeta is what the index remembers about a stored chunk. Size is
// the byte count recorded at write time; a disk scan that finds a
// different size drops the chunk from reports.
type ChunkMeta struct {
	Size      int64
	Checksum  string
	CreatedAt int64
}

// ChunkStore owns the bytes under one storage root. Each chunk is a
// pair of files, <id>.chunk and <id>.sha256, both written via temp file
// then rename so a crash between the two cannot be mistaken for a valid
// chunk. The in-memory inventory is rebuilt by a full scan at startup
// and reconciled periodically.
type ChunkStore struct {
	root string
	idx  index.Indexer[uuid.UUID, ChunkMeta]

	// invMu serializes inventory mutations and directory scans.
	invMu sync.Mutex
	inv   map[uuid.UUID]ChunkMeta
}

// NewChunkStore opens (creating if needed) the store at root, with the
// chunk index under <root>/.idx, and reconciles the index against disk.
func NewChunkStore(root string) (*ChunkStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	idx, err := index.NewLevelDBIndexer[uuid.UUID, ChunkMeta](
		filepath.Join(root, ".idx"), nil,
		func(k uuid.UUID) []byte { return k[:] },
		func(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) },
	)
	if err != nil {
		return nil, fmt.Errorf("open chunk index: %w", err)
	}

	s := &ChunkStore{
		root: root,
		idx:  idx,
		inv:  make(map[uuid.UUID]ChunkMeta),
	}
	if err := s.ScanDisk(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("initial inventory scan: %w", err)
	}
	return s, nil
}

func (s *ChunkStore) Close() error {
	return s.idx.Close()
}

func (s *ChunkStore) chunkPath(id uuid.UUID) string {
	return filepath.Join(s.root, id.String()+chunkSuffix)
}

func (s *ChunkStore) checksumPath(id uuid.UUID) string {
	return filepath.Join(s.root, id.String()+checksumSuffix)
}

// Put streams body to disk, hashing incrementally, and returns the
// stored metadata. Chunks are immutable: a repeated Put for an existing
// id preserves the stored bytes and digest no matter what arrives.
func (s *ChunkStore) Put(id uuid.UUID, body io.Reader) (ChunkMeta, error) {
	if meta, ok := s.Lookup(id); ok {
		// Drain so pipelined senders do not stall on a dead pipe.
		digest, n, err := utils.Sha256HexReader(body)
		if err == nil && (digest != meta.Checksum || n != meta.Size) {
			logger.Warn().
				Str("chunk_id", id.String()).
				Str("stored", meta.Checksum).
				Str("incoming", digest).
				Msg("worker: rejected rewrite of immutable chunk")
		}
		return meta, nil
	}

	tmp := s.chunkPath(id) + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ChunkMeta{}, fmt.Errorf("create temp chunk: %w", wrapNoSpace(err))
	}

	h := utils.Sha256PoolGetHasher()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if err != nil {
		utils.Sha256PoolPutHasher(h)
		f.Close()
		os.Remove(tmp)
		return ChunkMeta{}, fmt.Errorf("write chunk body: %w", wrapNoSpace(err))
	}
	if err := f.Sync(); err != nil {
		utils.Sha256PoolPutHasher(h)
		f.Close()
		os.Remove(tmp)
		return ChunkMeta{}, fmt.Errorf("sync chunk: %w", wrapNoSpace(err))
	}
	if err := f.Close(); err != nil {
		utils.Sha256PoolPutHasher(h)
		os.Remove(tmp)
		return ChunkMeta{}, err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	utils.Sha256PoolPutHasher(h)

	sideTmp := s.checksumPath(id) + tmpSuffix
	if err := writeFileSync(sideTmp, []byte(digest)); err != nil {
		os.Remove(tmp)
		return ChunkMeta{}, fmt.Errorf("write checksum sidecar: %w", wrapNoSpace(err))
	}

	// Data first, sidecar last: a crash in between leaves a chunk with
	// no sidecar, which inventory ignores.
	if err := os.Rename(tmp, s.chunkPath(id)); err != nil {
		os.Remove(tmp)
		os.Remove(sideTmp)
		return ChunkMeta{}, fmt.Errorf("publish chunk: %w", err)
	}
	if err := os.Rename(sideTmp, s.checksumPath(id)); err != nil {
		os.Remove(sideTmp)
		return ChunkMeta{}, fmt.Errorf("publish checksum sidecar: %w", err)
	}

	meta := ChunkMeta{Size: n, Checksum: digest, CreatedAt: time.Now().Unix()}
	if err := s.idx.PutSync(id, meta); err != nil {
		return ChunkMeta{}, fmt.Errorf("index chunk: %w", err)
	}

	s.invMu.Lock()
	s.inv[id] = meta
	s.invMu.Unlock()

	chunkWriteBytes.Add(float64(n))
	s.updateInventoryMetrics()
	return meta, nil
}

// Open returns a reader over the chunk bytes that verifies the stored
// digest as it streams. A digest mismatch surfaces types.ErrCorrupted
// from Read and quarantines the chunk.
func (s *ChunkStore) Open(id uuid.UUID) (io.ReadCloser, ChunkMeta, error) {
	meta, ok := s.Lookup(id)
	if !ok {
		return nil, ChunkMeta{}, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	f, err := os.Open(s.chunkPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ChunkMeta{}, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
		}
		return nil, ChunkMeta{}, err
	}
	return &verifyingReader{
		f:        f,
		h:        utils.Sha256PoolGetHasher(),
		expected: meta.Checksum,
		onCorrupt: func() {
			logger.Error().Str("chunk_id", id.String()).Msg("worker: checksum mismatch on read, quarantining")
			s.MarkBad(id)
		},
	}, meta, nil
}

// Lookup returns the inventory entry for id.
func (s *ChunkStore) Lookup(id uuid.UUID) (ChunkMeta, bool) {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	meta, ok := s.inv[id]
	return meta, ok
}

// Delete removes chunk and sidecar. Idempotent: deleting an absent
// chunk succeeds.
func (s *ChunkStore) Delete(id uuid.UUID) error {
	if err := os.Remove(s.chunkPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(s.checksumPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := s.idx.DeleteSync(id); err != nil {
		return err
	}

	s.invMu.Lock()
	delete(s.inv, id)
	s.invMu.Unlock()
	s.updateInventoryMetrics()
	return nil
}

// MarkBad quarantines a corrupted chunk: both files get a .bad suffix
// so inventory stops reporting them, and the index entry is dropped.
func (s *ChunkStore) MarkBad(id uuid.UUID) {
	if err := os.Rename(s.chunkPath(id), s.chunkPath(id)+badSuffix); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("chunk_id", id.String()).Msg("worker: quarantine chunk file")
	}
	if err := os.Rename(s.checksumPath(id), s.checksumPath(id)+badSuffix); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("chunk_id", id.String()).Msg("worker: quarantine checksum sidecar")
	}
	if err := s.idx.DeleteSync(id); err != nil {
		logger.Warn().Err(err).Str("chunk_id", id.String()).Msg("worker: drop quarantined index entry")
	}

	s.invMu.Lock()
	delete(s.inv, id)
	s.invMu.Unlock()

	chunkCorruptions.Inc()
	s.updateInventoryMetrics()
}

// Inventory returns the ids of every valid chunk currently held.
func (s *ChunkStore) Inventory() []uuid.UUID {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	out := make([]uuid.UUID, 0, len(s.inv))
	for id := range s.inv {
		out = append(out, id)
	}
	return out
}

// Stats reports chunk count and total stored bytes.
func (s *ChunkStore) Stats() (count int, bytes int64) {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	for _, meta := range s.inv {
		bytes += meta.Size
	}
	return len(s.inv), bytes
}

// ScanDisk rebuilds the inventory from the directory: chunks whose
// sidecar is missing, or whose on-disk size differs from the size
// recorded at write time, are excluded. Index entries without a backing
// file are dropped. Catches out-of-band modifications between scans.
func (s *ChunkStore) ScanDisk() error {
	s.invMu.Lock()
	defer s.invMu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}

	onDisk := make(map[uuid.UUID]int64)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, chunkSuffix))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if _, err := os.Stat(s.checksumPath(id)); err != nil {
			logger.Warn().Str("chunk_id", id.String()).Msg("worker: chunk without sidecar ignored")
			continue
		}
		onDisk[id] = info.Size()
	}

	inv := make(map[uuid.UUID]ChunkMeta, len(onDisk))
	err = s.idx.Iterate(func(id uuid.UUID, meta ChunkMeta) error {
		size, ok := onDisk[id]
		if !ok {
			return s.idx.Delete(id)
		}
		if size != meta.Size {
			logger.Warn().
				Str("chunk_id", id.String()).
				Int64("recorded", meta.Size).
				Int64("on_disk", size).
				Msg("worker: chunk size mismatch, excluded from inventory")
			delete(onDisk, id)
			return nil
		}
		inv[id] = meta
		delete(onDisk, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconcile index: %w", err)
	}

	// Files present on disk but unknown to the index: adopt them from
	// their sidecar (e.g. index lost, data intact).
	for id, size := range onDisk {
		raw, err := os.ReadFile(s.checksumPath(id))
		if err != nil {
			continue
		}
		meta := ChunkMeta{Size: size, Checksum: strings.TrimSpace(string(raw)), CreatedAt: time.Now().Unix()}
		if err := s.idx.Put(id, meta); err != nil {
			return fmt.Errorf("adopt chunk %s: %w", id, err)
		}
		inv[id] = meta
	}
	if err := s.idx.Sync(); err != nil {
		return err
	}

	s.inv = inv
	s.updateInventoryMetricsLocked()
	return nil
}

// Scrub re-reads every chunk and compares the recomputed digest with
// the sidecar, quarantining mismatches. Detects bit rot between reads.
func (s *ChunkStore) Scrub() (checked, corrupted int) {
	for _, id := range s.Inventory() {
		meta, ok := s.Lookup(id)
		if !ok {
			continue
		}
		f, err := os.Open(s.chunkPath(id))
		if err != nil {
			continue
		}
		digest, _, err := utils.Sha256HexReader(f)
		f.Close()
		checked++
		if err == nil && digest != meta.Checksum {
			logger.Error().
				Str("chunk_id", id.String()).
				Str("stored", meta.Checksum).
				Str("computed", digest).
				Msg("worker: scrub found corrupted chunk")
			s.MarkBad(id)
			corrupted++
		}
	}
	return checked, corrupted
}

func (s *ChunkStore) updateInventoryMetrics() {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	s.updateInventoryMetricsLocked()
}

func (s *ChunkStore) updateInventoryMetricsLocked() {
	var bytes int64
	for _, meta := range s.inv {
		bytes += meta.Size
	}
	inventoryChunks.Set(float64(len(s.inv)))
	inventoryBytes.Set(float64(bytes))
}

// verifyingReader hashes as it streams and fails the final read when
// the digest diverges from the sidecar.
type verifyingReader struct {
	f         *os.File
	h         hash.Hash
	expected  string
	onCorrupt func()
	done      bool
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
	}
	if errors.Is(err, io.EOF) && !r.done {
		r.done = true
		if hex.EncodeToString(r.h.Sum(nil)) != r.expected {
			if r.onCorrupt != nil {
				r.onCorrupt()
			}
			return n, types.ErrCorrupted
		}
	}
	return n, err
}

func (r *verifyingReader) Close() error {
	return r.f.Close()
}

func wrapNoSpace(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", types.ErrNoSpace, err)
	}
	return err
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
