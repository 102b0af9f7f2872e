// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadInits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_coordinator_upload_inits_total",
		Help: "Upload-init operations by status",
	}, []string{"status"})

	commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_coordinator_commits_total",
		Help: "Commit operations by status",
	}, []string{"status"})

	deletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_coordinator_deletes_total",
		Help: "Delete operations by status",
	}, []string{"status"})

	heartbeatsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_heartbeats_received_total",
		Help: "Worker heartbeats processed",
	})

	nodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftfs_coordinator_nodes_active",
		Help: "Workers currently considered active",
	})

	sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_sessions_expired_total",
		Help: "Upload sessions abandoned by timeout",
	})

	repairRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_repair_runs_total",
		Help: "Completed repair scan cycles",
	})

	repairsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_repairs_scheduled_total",
		Help: "Repair copies enqueued",
	})

	repairsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_coordinator_repairs_total",
		Help: "Repair copies by outcome",
	}, []string{"status"})

	rebalanceMoves = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_rebalance_moves_total",
		Help: "Rebalance moves scheduled",
	})

	gcRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_gc_runs_total",
		Help: "Total number of GC runs",
	})

	gcFilesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_gc_files_deleted_total",
		Help: "Soft-deleted files reclaimed by GC",
	})

	gcBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftfs_coordinator_gc_bytes_reclaimed_total",
		Help: "Bytes of files reclaimed by GC",
	})

	gcDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftfs_coordinator_gc_duration_seconds",
		Help:    "Duration of GC runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	proxyTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftfs_coordinator_proxy_transfers_total",
		Help: "Proxied chunk transfers by direction and status",
	}, []string{"direction", "status"})
)

func init() {
	prometheus.MustRegister(
		uploadInits,
		commits,
		deletes,
		heartbeatsReceived,
		nodesActive,
		sessionsExpired,
		repairRuns,
		repairsScheduled,
		repairsCompleted,
		rebalanceMoves,
		gcRunsTotal,
		gcFilesDeleted,
		gcBytesReclaimed,
		gcDuration,
		proxyTransfers,
	)
}
