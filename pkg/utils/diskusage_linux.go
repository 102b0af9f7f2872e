// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package utils

import "golang.org/x/sys/unix"

// DiskUsage reports free and total bytes of the filesystem holding path.
func DiskUsage(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}
