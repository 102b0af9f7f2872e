// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
)

// Journal op codes. One JSON line per mutation, flushed to disk before
// the mutation is acknowledged.
const (
	opSnapshot      = "snapshot"
	opProvision     = "provision"
	opPublish       = "publish"
	opSoftDelete    = "soft_delete"
	opPurge         = "purge"
	opDropSession   = "drop_session"
	opNodeUpsert    = "node_upsert"
	opNodeState     = "node_state"
	opReplicaAdd    = "replica_add"
	opReplicaRemove = "replica_remove"
)

type walRecord struct {
	Op      string          `json:"op"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type provisionPayload struct {
	File    *types.FileRecord    `json:"file"`
	Session *types.UploadSession `json:"session"`
}

type publishPayload struct {
	FileID uuid.UUID               `json:"file_id"`
	Chunks []types.ChunkCommitInfo `json:"chunks"`
}

type softDeletePayload struct {
	Path string `json:"path"`
}

type fileIDPayload struct {
	FileID uuid.UUID `json:"file_id"`
}

type nodeStatePayload struct {
	NodeID string          `json:"node_id"`
	State  types.NodeState `json:"state"`
}

type replicaAddPayload struct {
	ChunkID uuid.UUID         `json:"chunk_id"`
	Replica types.ReplicaInfo `json:"replica"`
}

type replicaRemovePayload struct {
	ChunkID uuid.UUID `json:"chunk_id"`
	NodeID  string    `json:"node_id"`
}

type snapshotPayload struct {
	Files    []*types.FileRecord    `json:"files"`
	Sessions []*types.UploadSession `json:"sessions"`
	Nodes    []*types.NodeInfo      `json:"nodes"`
}

// journal is an append-only JSON-line log with fsync-per-record
// durability. Exactly one process writes it.
type journal struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

func openJournal(path string) (*journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &journal{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// append writes one record and forces it to disk. An error here is fatal
// to the in-flight mutation; the store never acknowledges un-journaled
// state.
func (j *journal) append(op string, at time.Time, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	rec := walRecord{Op: op, At: at, Payload: raw}
	line, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := j.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.f.Sync()
}

func (j *journal) Close() error {
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Close()
}

// replayJournal streams every record of the journal at path to apply.
// A missing file is an empty journal. A truncated trailing line (crash
// mid-append) is ignored; everything before it was fsynced.
func replayJournal(path string, apply func(rec *walRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn tail write from a crash; stop here.
			return nil
		}
		if err := apply(&rec); err != nil {
			return fmt.Errorf("replay %s: %w", rec.Op, err)
		}
	}
	return sc.Err()
}

// rewrite atomically replaces the journal with a single snapshot record,
// bounding replay time. Temp-file-then-rename so a crash mid-compaction
// leaves the previous journal intact.
func (j *journal) rewrite(at time.Time, snap *snapshotPayload) error {
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		f.Close()
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	line, err := json.Marshal(&walRecord{Op: opSnapshot, At: at, Payload: raw})
	if err != nil {
		f.Close()
		return fmt.Errorf("marshal snapshot record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := j.w.Flush(); err != nil {
		return err
	}
	if err := j.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("swap journal: %w", err)
	}

	nf, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.f = nf
	j.w = bufio.NewWriter(nf)
	return nil
}
