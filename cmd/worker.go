// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/driftlabs/driftfs/pkg/debug"
	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
	"github.com/driftlabs/driftfs/pkg/worker"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a storage worker",
	Long: `Start a DriftFS storage worker. Workers hold content-addressed
chunks on local disk, report their inventory to the coordinator every
heartbeat, and fan new writes out to peer workers when asked.`,
	Run: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	f := workerCmd.Flags()
	f.String("node_id", "", "Stable worker id (default: node-<host>-<port>)")
	f.String("host", "", "Advertised host other nodes reach this worker on")
	f.Int("port", 8001, "Chunk API port")
	f.Int("worker_debug_port", 8011, "Debug/metrics HTTP port")
	f.String("rack", "", "Optional rack label for placement spreading")
	f.String("metadata_url", "http://localhost:8000", "Coordinator base URL")
	f.String("storage_path", filepath.Join(os.TempDir(), "driftfs", "data"), "Chunk storage directory")
	f.Duration("heartbeat_interval", types.DefaultHeartbeatInterval, "Heartbeat period")
	f.Duration("scan_interval", 0, "Full inventory scan period (default 1h)")
	f.Duration("scrub_interval", 0, "Digest scrub period (default 6h)")

	viper.BindPFlags(f)
}

func runWorker(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("worker", false)
	opts := loadWorkerOpts(cmd)

	debug.SetNotReady()

	mux := http.NewServeMux()
	srv, err := worker.NewServer(opts, mux)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create worker")
	}

	srv.Start(cmd.Context())

	apiServer := startHTTPServer(mux, "0.0.0.0", opts.Port)
	debugServer := startHTTPServer(debug.GetMux(), "0.0.0.0", NewFlagLoader(cmd).Int("worker_debug_port"))

	debug.SetReady()
	logger.Info().
		Str("node_id", srv.NodeID()).
		Str("storage_path", opts.StoragePath).
		Msg("Worker serving")

	waitForShutdown()

	debug.SetNotReady()
	srv.Stop()
	apiServer.Shutdown(cmd.Context())
	debugServer.Shutdown(cmd.Context())
}

func loadWorkerOpts(cmd *cobra.Command) types.WorkerConfig {
	f := NewFlagLoader(cmd)

	host := f.String("host")
	if host == "" {
		if host = os.Getenv("ADVERTISE_HOST"); host == "" {
			host = utils.DetectedHostAddress()
		}
	}

	return types.WorkerConfig{
		NodeID:            f.String("node_id"),
		Host:              host,
		Port:              f.Int("port"),
		Rack:              f.String("rack"),
		MetadataURL:       f.String("metadata_url"),
		StoragePath:       f.String("storage_path"),
		HeartbeatInterval: f.Duration("heartbeat_interval"),
		ScanInterval:      f.Duration("scan_interval"),
		ScrubInterval:     f.Duration("scrub_interval"),
	}
}
