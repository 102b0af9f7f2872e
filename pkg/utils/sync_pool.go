// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"bytes"
	"encoding/hex"
	"hash"
	"io"
	"sync"

	"github.com/minio/sha256-simd"
)

var (
	bufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
	sha256Pool = sync.Pool{
		New: func() any {
			return sha256.New()
		},
	}
)

func SyncPoolGetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func SyncPoolPutBuffer(buffer *bytes.Buffer) {
	buffer.Reset()
	bufferPool.Put(buffer)
}

func Sha256PoolGetHasher() hash.Hash {
	return sha256Pool.Get().(hash.Hash)
}

func Sha256PoolPutHasher(h hash.Hash) {
	h.Reset()
	sha256Pool.Put(h)
}

// Sha256Hex computes the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	h := Sha256PoolGetHasher()
	h.Write(data)
	sum := h.Sum(nil)
	Sha256PoolPutHasher(h)
	return hex.EncodeToString(sum)
}

// Sha256HexReader drains r and returns its lowercase hex SHA-256 digest
// along with the number of bytes read.
func Sha256HexReader(r io.Reader) (string, int64, error) {
	h := Sha256PoolGetHasher()
	defer Sha256PoolPutHasher(h)
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
