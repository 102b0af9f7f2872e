// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
)

// Heartbeat posts the current inventory and disk usage to the
// coordinator. A failed heartbeat is logged and retried next tick; the
// worker never crashes over it.
func (s *Server) Heartbeat(ctx context.Context) {
	free, total, err := utils.DiskUsage(s.cfg.StoragePath)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: disk usage probe failed")
	}

	hb := types.HeartbeatRequest{
		NodeID:     s.cfg.NodeID,
		Host:       s.cfg.Host,
		Port:       s.cfg.Port,
		Rack:       s.cfg.Rack,
		FreeSpace:  int64(free),
		TotalSpace: int64(total),
		ChunkIDs:   s.store.Inventory(),
	}

	body, err := json.Marshal(&hb)
	if err != nil {
		logger.Error().Err(err).Msg("worker: marshal heartbeat")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.MetadataURL+"/api/v1/nodes/heartbeat", bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Msg("worker: build heartbeat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		heartbeatsFailed.Inc()
		logger.Warn().Err(err).Msg("worker: heartbeat delivery failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		heartbeatsFailed.Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Msg(fmt.Sprintf("worker: heartbeat rejected by %s", s.cfg.MetadataURL))
		return
	}

	heartbeatsSent.Inc()
	logger.Debug().
		Int("chunks", len(hb.ChunkIDs)).
		Int64("free_space", hb.FreeSpace).
		Msg("worker: heartbeat sent")
}
