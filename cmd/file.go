// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/driftlabs/driftfs/pkg/client"
	"github.com/driftlabs/driftfs/pkg/logger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// File transfer subcommands built on the client library.

var (
	clientMetadataURL string
	clientUseProxy    bool
	clientConcurrency int
)

func newClient() *client.Client {
	return client.New(client.Config{
		BaseURL:             clientMetadataURL,
		UseProxy:            clientUseProxy,
		UploadConcurrency:   clientConcurrency,
		DownloadConcurrency: clientConcurrency * 2,
	})
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> <remote-path>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		res, err := newClient().UploadFile(cmd.Context(), args[0], args[1], client.UploadOptions{Overwrite: overwrite})
		if err != nil {
			logger.Fatal().Err(err).Msg("upload failed")
		}
		fmt.Printf("uploaded %s -> %s (%s, %d chunks, file id %s)\n",
			args[0], res.Path, humanize.IBytes(uint64(res.Size)), res.Chunks, res.FileID)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path> <local-file>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := newClient().DownloadFile(cmd.Context(), args[0], args[1])
		if err != nil {
			logger.Fatal().Err(err).Msg("download failed")
		}
		fmt.Printf("downloaded %s -> %s (%s)\n", args[0], args[1], humanize.IBytes(uint64(n)))
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List files",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		files, err := newClient().List(cmd.Context(), prefix, limit, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("list failed")
		}
		for _, f := range files {
			fmt.Printf("%-12s %-24s %s\n", humanize.IBytes(uint64(f.Size)), f.ModifiedAt.Format("2006-01-02 15:04:05"), f.Path)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <remote-path>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		permanent, _ := cmd.Flags().GetBool("permanent")

		if err := newClient().Delete(cmd.Context(), args[0], permanent); err != nil {
			logger.Fatal().Err(err).Msg("delete failed")
		}
		fmt.Printf("deleted %s\n", args[0])
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <remote-path>",
	Short: "Show file metadata with live replicas",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := newClient().Stat(cmd.Context(), args[0])
		if err != nil {
			logger.Fatal().Err(err).Msg("stat failed")
		}
		fmt.Printf("path:     %s\nfile id:  %s\nsize:     %s\nmodified: %s\nchunks:   %d\n",
			f.Path, f.FileID, humanize.IBytes(uint64(f.Size)), f.ModifiedAt.Format("2006-01-02 15:04:05"), len(f.Chunks))
		for _, c := range f.Chunks {
			fmt.Printf("  [%d] %s %s replicas=%d\n", c.SeqIndex, c.ChunkID, humanize.IBytes(uint64(c.Size)), len(c.Replicas))
		}
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List storage workers",
	Run: func(cmd *cobra.Command, args []string) {
		nodes, err := newClient().Nodes(cmd.Context())
		if err != nil {
			logger.Fatal().Err(err).Msg("nodes failed")
		}
		for _, n := range nodes {
			fmt.Printf("%-24s %-10s %6d chunks  %s free / %s  last seen %s\n",
				n.NodeID, n.State, n.ChunkCount,
				humanize.IBytes(uint64(n.FreeSpace)), humanize.IBytes(uint64(n.TotalSpace)),
				n.LastHeartbeat.Format("15:04:05"))
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{uploadCmd, downloadCmd, lsCmd, rmCmd, statCmd, nodesCmd} {
		c.PersistentFlags().StringVar(&clientMetadataURL, "metadata_url", envOr("DRIFTFS_METADATA_URL", "http://localhost:8000"), "Coordinator base URL")
		c.PersistentFlags().BoolVar(&clientUseProxy, "proxy", false, "Route chunk bytes through the coordinator proxy")
		c.PersistentFlags().IntVar(&clientConcurrency, "concurrency", 4, "Parallel chunk transfers")
		rootCmd.AddCommand(c)
	}

	uploadCmd.Flags().Bool("overwrite", false, "Replace an existing file at the remote path")
	rmCmd.Flags().Bool("permanent", false, "Schedule immediate physical removal")
	lsCmd.Flags().Int("limit", 0, "Maximum entries to list")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
