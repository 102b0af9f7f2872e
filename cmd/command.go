// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/driftlabs/driftfs/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "driftfs",
	Short: "DriftFS - a chunked, replicated distributed file system",
	Long: `DriftFS is a small distributed file system: a single metadata
coordinator plans chunk placement and repairs replication, storage
workers hold content-addressed chunks on local disk, and the client
streams file bytes to several replicas in parallel.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
