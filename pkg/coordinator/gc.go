// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"time"

	"github.com/driftlabs/driftfs/pkg/logger"
)

// gcLoop reclaims soft-deleted files past the grace period: best-effort
// physical deletes to every worker holding one of their chunks, then
// the records themselves. Failures are tolerated; the next pass
// retries whatever is left.
func (s *Server) gcLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.GCPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectGarbage(ctx)
		}
	}
}

func (s *Server) collectGarbage(ctx context.Context) {
	start := time.Now()
	gcRunsTotal.Inc()

	cutoff := time.Now().Add(-s.cfg.GCGrace)
	expired := s.db.DeletedBefore(cutoff)
	if len(expired) == 0 {
		s.checkpoint()
		gcDuration.Observe(time.Since(start).Seconds())
		return
	}

	logger.Info().Int("files", len(expired)).Msg("gc: reclaiming soft-deleted files")

	var deletedFiles int
	var deletedBytes int64
	for _, f := range expired {
		for i := range f.Chunks {
			c := &f.Chunks[i]
			for _, rep := range c.Replicas {
				s.enqueueChunkDelete(ctx, c.ChunkID, rep.URL)
			}
		}
		if err := s.db.PurgeFile(f.FileID); err != nil {
			logger.Warn().Err(err).Str("path", f.Path).Msg("gc: purge file failed")
			continue
		}
		deletedFiles++
		deletedBytes += f.Size
	}

	gcFilesDeleted.Add(float64(deletedFiles))
	gcBytesReclaimed.Add(float64(deletedBytes))
	s.checkpoint()
	gcDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Int("deleted", deletedFiles).
		Int64("bytes", deletedBytes).
		Dur("duration", time.Since(start)).
		Msg("gc: completed")
}

// checkpoint compacts the journal when the store supports it, keeping
// restart replay bounded.
func (s *Server) checkpoint() {
	type checkpointer interface {
		Checkpoint(now time.Time) error
	}
	if cp, ok := s.db.(checkpointer); ok {
		if err := cp.Checkpoint(time.Now().UTC()); err != nil {
			logger.Warn().Err(err).Msg("gc: journal checkpoint failed")
		}
	}
}

// RunGCOnce performs a single GC pass (useful for testing).
func (s *Server) RunGCOnce(ctx context.Context) {
	s.collectGarbage(ctx)
}

// RunRepairOnce performs a single repair scan (useful for testing).
func (s *Server) RunRepairOnce(ctx context.Context) {
	s.runRepairScan(ctx)
}

// RunSessionSweepOnce expires sessions immediately (useful for testing).
func (s *Server) RunSessionSweepOnce(ctx context.Context) {
	s.expireSessions(ctx)
}
