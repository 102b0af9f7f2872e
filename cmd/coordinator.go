// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/driftlabs/driftfs/pkg/coordinator"
	"github.com/driftlabs/driftfs/pkg/debug"
	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/meta"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Start the metadata coordinator",
	Long: `Start the DriftFS coordinator: the single source of truth for the
namespace, chunk placement, worker liveness and replica repair.`,
	Run: runCoordinator,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)

	f := coordinatorCmd.Flags()
	f.String("listen_host", "0.0.0.0", "Address to bind the API server")
	f.Int("listen_port", 8000, "API server port")
	f.Int("debug_port", 8010, "Debug/metrics HTTP port")
	f.String("chunk_size", "64MiB", "Chunk size handed to clients (authoritative)")
	f.Int("replication_factor", types.DefaultReplicationFactor, "Target replicas per chunk")
	f.Duration("dead_threshold", types.DefaultDeadThreshold, "Heartbeat age before a worker is inactive")
	f.Duration("repair_period", types.DefaultRepairPeriod, "Interval between repair scans")
	f.Int("max_concurrent_repairs", types.DefaultMaxConcurrentRepairs, "Concurrent cross-worker repair copies")
	f.Bool("rebalance", false, "Move placements from hot workers to cold ones")
	f.Duration("gc_period", types.DefaultGCPeriod, "Interval between GC sweeps")
	f.Duration("gc_grace", types.DefaultGCGrace, "Grace period before soft-deleted files are reclaimed")
	f.Duration("session_timeout", types.DefaultSessionTimeout, "Upload session lifetime")
	f.Float64("min_free_ratio", types.DefaultMinFreeRatio, "Free-space floor for placement eligibility")
	f.String("journal_path", filepath.Join(os.TempDir(), "driftfs", "coordinator.wal"), "Write-ahead journal path")

	viper.BindPFlags(f)
}

func runCoordinator(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("coordinator", false)
	opts := loadCoordinatorOpts(cmd)

	debug.SetNotReady()

	db, err := meta.Open(opts.JournalPath)
	if err != nil {
		logger.Fatal().Err(err).Str("journal_path", opts.JournalPath).Msg("failed to open metadata store")
	}

	mux := http.NewServeMux()
	srv, err := coordinator.NewServer(opts, db, mux)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create coordinator")
	}

	srv.Start(cmd.Context())

	apiServer := startHTTPServer(mux, opts.Host, opts.Port)
	debugServer := startHTTPServer(debug.GetMux(), opts.Host, viperDebugPort(cmd))

	debug.SetReady()
	logger.Info().
		Str("addr", utils.JoinHostPort(opts.Host, opts.Port)).
		Str("chunk_size", humanize.IBytes(uint64(opts.ChunkSize))).
		Int("replication_factor", opts.ReplicationFactor).
		Msg("Coordinator serving")

	waitForShutdown()

	debug.SetNotReady()
	srv.Stop()
	apiServer.Shutdown(cmd.Context())
	debugServer.Shutdown(cmd.Context())
	if err := db.Close(); err != nil {
		logger.Warn().Err(err).Msg("close metadata store")
	}
}

func loadCoordinatorOpts(cmd *cobra.Command) types.CoordinatorConfig {
	f := NewFlagLoader(cmd)

	chunkSizeStr := f.String("chunk_size")
	chunkSize, err := humanize.ParseBytes(chunkSizeStr)
	if err != nil {
		logger.Fatal().Err(err).Str("chunk_size", chunkSizeStr).Msg("invalid chunk size")
	}

	return types.CoordinatorConfig{
		Host:                 f.String("listen_host"),
		Port:                 f.Int("listen_port"),
		ChunkSize:            int64(chunkSize),
		ReplicationFactor:    f.Int("replication_factor"),
		DeadThreshold:        f.Duration("dead_threshold"),
		RepairPeriod:         f.Duration("repair_period"),
		MaxConcurrentRepairs: f.Int("max_concurrent_repairs"),
		RebalanceEnabled:     f.Bool("rebalance"),
		GCPeriod:             f.Duration("gc_period"),
		GCGrace:              f.Duration("gc_grace"),
		SessionTimeout:       f.Duration("session_timeout"),
		MinFreeRatio:         f.Float64("min_free_ratio"),
		JournalPath:          f.String("journal_path"),
	}
}

func viperDebugPort(cmd *cobra.Command) int {
	return NewFlagLoader(cmd).Int("debug_port")
}

func startHTTPServer(handler http.Handler, host string, port int) *http.Server {
	addr := utils.JoinHostPort(host, port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 0, // chunk transfers can be slow; per-request contexts bound them
	}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
