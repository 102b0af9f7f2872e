// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator implements the metadata coordinator: the single
// source of truth for the namespace, chunk placement, worker liveness
// and replica counts. All metadata mutations funnel through one store;
// background loops reconcile replication, expire sessions and collect
// garbage.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
	"github.com/driftlabs/driftfs/pkg/meta"
	"github.com/driftlabs/driftfs/pkg/taskqueue"
	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server wires the store, the lease table, placement and the background
// loops behind the coordinator HTTP API.
type Server struct {
	cfg     types.CoordinatorConfig
	db      meta.DB
	leases  *LeaseTable
	planner *Planner

	queue taskqueue.Queue
	tasks *taskqueue.Worker

	// repairLimiter paces repair copy dispatch so a large backlog does
	// not saturate the network between workers.
	repairLimiter *rate.Limiter

	// client performs outbound calls: proxy forwards, replicate
	// commands, physical chunk deletes.
	client *http.Client

	// proxyRR rotates replica selection for proxied downloads.
	proxyRR atomic.Uint64

	// sessionLeases maps a session's file id to the path lease taken at
	// upload-init, released at commit or abandonment.
	sessionMu     sync.Mutex
	sessionLeases map[string]uuid.UUID

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *Server) trackSessionLease(fileID string, leaseID uuid.UUID) {
	s.sessionMu.Lock()
	s.sessionLeases[fileID] = leaseID
	s.sessionMu.Unlock()
}

func (s *Server) releaseSessionLease(fileID string) {
	s.sessionMu.Lock()
	leaseID, ok := s.sessionLeases[fileID]
	delete(s.sessionLeases, fileID)
	s.sessionMu.Unlock()
	if ok {
		s.leases.Release(leaseID)
	}
}

func NewServer(cfg types.CoordinatorConfig, db meta.DB, mux *http.ServeMux) (*Server, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		db:            db,
		leases:        NewLeaseTable(),
		planner:       &Planner{ReplicationFactor: cfg.ReplicationFactor, MinFreeRatio: cfg.MinFreeRatio},
		queue:         taskqueue.NewMemoryQueue(),
		client:        &http.Client{Timeout: 2 * time.Minute},
		repairLimiter: rate.NewLimiter(rate.Limit(cfg.MaxConcurrentRepairs), cfg.MaxConcurrentRepairs),
		sessionLeases: make(map[string]uuid.UUID),
		stopCh:        make(chan struct{}),
	}

	// Repair copies are bounded by the task worker's concurrency; this
	// is the semaphore capping simultaneous cross-worker transfers.
	s.tasks = taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:          "coordinator",
		Queue:       s.queue,
		Concurrency: cfg.MaxConcurrentRepairs,
	})
	s.tasks.RegisterHandler(&repairHandler{s: s})
	s.tasks.RegisterHandler(&chunkDeleteHandler{s: s})
	s.tasks.RegisterHandler(&rebalanceHandler{s: s})

	s.registerRoutes(mux)
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/files/upload-init", s.uploadInit)
	mux.HandleFunc("POST /api/v1/files/commit", s.commit)
	mux.HandleFunc("GET /api/v1/files", s.listFiles)
	mux.HandleFunc("GET /api/v1/files/{path...}", s.getFile)
	mux.HandleFunc("DELETE /api/v1/files/{path...}", s.deleteFile)
	mux.HandleFunc("POST /api/v1/nodes/heartbeat", s.heartbeat)
	mux.HandleFunc("GET /api/v1/nodes", s.listNodes)
	mux.HandleFunc("GET /api/v1/nodes/{node_id}", s.getNode)
	mux.HandleFunc("POST /api/v1/nodes/{node_id}/decommission", s.decommissionNode)
	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("GET /api/v1/stats", s.stats)
	mux.HandleFunc("POST /api/v1/leases/acquire", s.acquireLease)
	mux.HandleFunc("POST /api/v1/leases/release", s.releaseLease)
	mux.HandleFunc("PUT /api/v1/proxy/chunks/{chunk_id}", s.proxyPut)
	mux.HandleFunc("GET /api/v1/proxy/chunks/{chunk_id}", s.proxyGet)
}

// Start launches the background loops: liveness scanning, session
// expiry, the repair scanner, the GC sweep and the task worker that
// executes queued copies and deletes.
func (s *Server) Start(ctx context.Context) {
	s.tasks.Start(ctx)

	s.wg.Add(1)
	go s.livenessLoop(ctx)

	s.wg.Add(1)
	go s.sessionLoop(ctx)

	s.wg.Add(1)
	go s.repairLoop(ctx)

	s.wg.Add(1)
	go s.gcLoop(ctx)

	logger.Info().
		Int("replication_factor", s.cfg.ReplicationFactor).
		Int64("chunk_size", s.cfg.ChunkSize).
		Dur("repair_period", s.cfg.RepairPeriod).
		Bool("rebalance", s.cfg.RebalanceEnabled).
		Msg("coordinator: started")
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.tasks.Stop()
	s.queue.Close()
	logger.Info().Msg("coordinator: stopped")
}

// livenessLoop flags workers with stale heartbeats inactive and sweeps
// expired leases. Cheap, no I/O.
func (s *Server) livenessLoop(ctx context.Context) {
	defer s.wg.Done()

	period := s.cfg.DeadThreshold / 3
	if period < time.Second {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			flagged := s.db.MarkDead(now.Add(-s.cfg.DeadThreshold))
			for _, nodeID := range flagged {
				logger.Warn().Str("node_id", nodeID).Msg("coordinator: worker marked inactive")
			}
			s.leases.Sweep(now)

			active := 0
			for _, n := range s.db.ListNodes() {
				if n.State == types.NodeStateActive {
					active++
				}
			}
			nodesActive.Set(float64(active))
		}
	}
}

// sessionLoop abandons upload sessions past their timeout. The
// provisional record is purged and bytes already landed on workers are
// scheduled for removal; no published file ever appeared.
func (s *Server) sessionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireSessions(ctx)
		}
	}
}

func (s *Server) expireSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.SessionTimeout)
	for _, sess := range s.db.ExpiredSessions(cutoff) {
		logger.Info().
			Str("path", sess.Path).
			Str("file_id", sess.FileID.String()).
			Time("created_at", sess.CreatedAt).
			Msg("coordinator: abandoning expired upload session")

		for _, chunk := range sess.Chunks {
			for _, target := range chunk.Targets {
				s.enqueueChunkDelete(ctx, chunk.ChunkID, target)
			}
		}
		if err := s.db.DropSession(sess.FileID); err != nil {
			logger.Error().Err(err).Str("file_id", sess.FileID.String()).Msg("coordinator: drop expired session")
			continue
		}
		s.releaseSessionLease(sess.FileID.String())
		sessionsExpired.Inc()
	}
}

// --- shared HTTP helpers ----------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("coordinator: encode response")
	}
}

// httpStatus is the single error-to-status table at the API edge.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrPathConflict), errors.Is(err, types.ErrLeaseHeld):
		return http.StatusConflict
	case errors.Is(err, types.ErrNoCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrSessionExpired), errors.Is(err, meta.ErrInvalidCommit):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), types.ErrorResponse{Error: err.Error(), Kind: types.ErrorKind(err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
