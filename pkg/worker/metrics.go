// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunkWriteOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_write_ops_total",
		Help: "Chunk PUT operations by status",
	}, []string{"status"})

	chunkReadOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_read_ops_total",
		Help: "Chunk GET operations by status",
	}, []string{"status"})

	chunkDeleteOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_delete_ops_total",
		Help: "Chunk DELETE operations by status",
	}, []string{"status"})

	chunkWriteBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_write_bytes_total",
		Help: "Bytes written to the chunk store",
	})

	chunkReadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_read_bytes_total",
		Help: "Bytes served from the chunk store",
	})

	chunkCorruptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_chunk_corruptions_total",
		Help: "Chunks quarantined after a digest mismatch",
	})

	heartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_heartbeats_sent_total",
		Help: "Heartbeats delivered to the coordinator",
	})

	heartbeatsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_heartbeats_failed_total",
		Help: "Heartbeats that could not be delivered",
	})

	replicationsOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_worker_replications_total",
		Help: "Outbound chunk replications by status",
	}, []string{"status"})

	inventoryChunks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftfs_worker_inventory_chunks",
		Help: "Valid chunks currently held",
	})

	inventoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftfs_worker_inventory_bytes",
		Help: "Bytes of valid chunks currently held",
	})

	scrubRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_worker_scrub_runs_total",
		Help: "Completed scrub passes",
	})
)

func init() {
	prometheus.MustRegister(
		chunkWriteOps,
		chunkReadOps,
		chunkDeleteOps,
		chunkWriteBytes,
		chunkReadBytes,
		chunkCorruptions,
		heartbeatsSent,
		heartbeatsFailed,
		replicationsOut,
		inventoryChunks,
		inventoryBytes,
		scrubRuns,
	)
}
