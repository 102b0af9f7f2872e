// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
)

// Server is one storage worker: the chunk store plus the HTTP surface
// and the background loops (heartbeat emitter, periodic inventory scan,
// scrub pass).
type Server struct {
	cfg   types.WorkerConfig
	store *ChunkStore

	// client is shared by heartbeats, fan-out and replication.
	client *http.Client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(cfg types.WorkerConfig, mux *http.ServeMux) (*Server, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewChunkStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 2 * time.Minute},
		stopCh: make(chan struct{}),
	}
	s.registerRoutes(mux)
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /chunks", s.listChunks)
	mux.HandleFunc("PUT /chunks/{chunk_id}", s.putChunk)
	mux.HandleFunc("GET /chunks/{chunk_id}", s.getChunk)
	mux.HandleFunc("DELETE /chunks/{chunk_id}", s.deleteChunk)
	mux.HandleFunc("POST /replicate", s.replicate)
	mux.HandleFunc("GET /health", s.health)
}

// Store exposes the chunk store for tests and admin handlers.
func (s *Server) Store() *ChunkStore {
	return s.store
}

// NodeID returns the stable worker identity.
func (s *Server) NodeID() string {
	return s.cfg.NodeID
}

// Start launches the background loops. Each loop owns one well-defined
// unit of work per tick and exits on Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.heartbeatLoop(ctx)

	s.wg.Add(1)
	go s.scanLoop(ctx)

	s.wg.Add(1)
	go s.scrubLoop(ctx)

	logger.Info().
		Str("node_id", s.cfg.NodeID).
		Str("storage_path", s.cfg.StoragePath).
		Str("metadata_url", s.cfg.MetadataURL).
		Dur("heartbeat_interval", s.cfg.HeartbeatInterval).
		Msg("worker: started")
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("worker: close chunk store")
	}
	logger.Info().Str("node_id", s.cfg.NodeID).Msg("worker: stopped")
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	// First heartbeat goes out immediately so the coordinator learns
	// about this worker before the first full interval elapses.
	s.Heartbeat(ctx)

	ticks, stop := utils.JitteredTicker(s.cfg.HeartbeatInterval, 0.1)
	defer stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticks:
			s.Heartbeat(ctx)
		}
	}
}

func (s *Server) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(utils.JitterUp(s.cfg.ScanInterval, 0.1))
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.ScanDisk(); err != nil {
				logger.Error().Err(err).Msg("worker: inventory scan failed")
			}
		}
	}
}

func (s *Server) scrubLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(utils.JitterUp(s.cfg.ScrubInterval, 0.1))
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			checked, corrupted := s.store.Scrub()
			scrubRuns.Inc()
			if corrupted > 0 {
				logger.Warn().Int("checked", checked).Int("corrupted", corrupted).Msg("worker: scrub pass finished")
			} else {
				logger.Debug().Int("checked", checked).Msg("worker: scrub pass finished")
			}
		}
	}
}
