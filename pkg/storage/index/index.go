// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package index provides a small persistent key-value index used by the
// storage worker to track its chunk inventory across restarts.
package index

import (
	"io"
)

type Indexer[K comparable, V any] interface {
	io.Closer
	Put(key K, value V) error
	Get(key K) (V, error)
	Delete(key K) error
	Iterate(func(key K, value V) error) error

	// Destroy removes the underlying idx file
	Destroy() error

	// Sync forces buffered writes to disk
	Sync() error

	// PutSync writes with immediate fsync (slower but durable)
	PutSync(key K, value V) error

	// DeleteSync deletes with immediate fsync (slower but durable)
	DeleteSync(key K) error
}
