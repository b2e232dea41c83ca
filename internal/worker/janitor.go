// Package worker runs periodic maintenance for ThisReply.
//
// The janitor wakes up on a fixed interval and runs two tasks: removing
// analyses past their history retention window (together with their stored
// screenshots) and deleting expired sessions.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/storage"
	"github.com/thisreply/thisreply/internal/store"
)

// AnalysisSweepStore is the slice of the analysis store the janitor needs.
type AnalysisSweepStore interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]store.ExpiredRow, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SessionSweeper deletes expired sessions. Satisfied by service.UserService.
type SessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// Janitor runs retention and session cleanup on a timer.
type Janitor struct {
	analyses AnalysisSweepStore
	sessions SessionSweeper
	files    storage.Storage
	config   Config
	logger   *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a new Janitor. Start it with Start() and stop it with Stop().
func New(analyses AnalysisSweepStore, sessions SessionSweeper, files storage.Storage, config Config, logger *slog.Logger) (*Janitor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Janitor{
		analyses: analyses,
		sessions: sessions,
		files:    files,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins the maintenance loop. One sweep runs immediately so a
// restart does not postpone overdue cleanup by a full interval.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.run(ctx)

	j.logger.Info("janitor started", "interval", j.config.Interval)
}

// Stop signals the janitor to stop and waits for a running sweep to finish,
// up to the configured ShutdownTimeout.
func (j *Janitor) Stop() {
	j.logger.Info("stopping janitor...")
	close(j.stopCh)

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("janitor stopped gracefully")
	case <-time.After(j.config.ShutdownTimeout):
		j.logger.Warn("janitor shutdown timeout exceeded, a sweep may still be running")
	}
}

// run is the main janitor loop.
func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	j.runTasks(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runTasks(ctx)
		}
	}
}

// runTasks executes one round of maintenance tasks.
func (j *Janitor) runTasks(ctx context.Context) {
	taskCtx, cancel := context.WithTimeout(ctx, j.config.TaskTimeout)
	defer cancel()

	j.sweepExpiredAnalyses(taskCtx)
	j.sweepExpiredSessions(taskCtx)
}

// sweepExpiredAnalyses removes analyses past their retention window along
// with their stored files. Storage deletes are idempotent, so a row whose
// sweep failed halfway is safe to retry on the next tick.
func (j *Janitor) sweepExpiredAnalyses(ctx context.Context) {
	rows, err := j.analyses.ListExpired(ctx, time.Now().UTC(), j.config.SweepBatchSize)
	if err != nil {
		j.logger.Error("failed to list expired analyses", "error", err)
		metrics.SweepsTotal.WithLabelValues("retention", "error").Inc()
		return
	}

	swept := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			break
		}

		if row.ScreenshotKey != "" {
			if err := j.files.Delete(ctx, row.ScreenshotKey); err != nil {
				j.logger.Warn("failed to delete screenshot",
					"analysis_id", row.ID.String(), "key", row.ScreenshotKey, "error", err)
				continue
			}
		}
		if row.ThumbnailKey != "" {
			if err := j.files.Delete(ctx, row.ThumbnailKey); err != nil {
				j.logger.Warn("failed to delete thumbnail",
					"analysis_id", row.ID.String(), "key", row.ThumbnailKey, "error", err)
				continue
			}
		}

		// Row goes last: files must be unreferenced before the reference
		// disappears.
		if err := j.analyses.Delete(ctx, row.ID); err != nil {
			j.logger.Error("failed to delete expired analysis",
				"analysis_id", row.ID.String(), "error", err)
			continue
		}
		swept++
	}

	metrics.SweepsTotal.WithLabelValues("retention", "ok").Inc()
	metrics.SweptRowsTotal.WithLabelValues("retention").Add(float64(swept))

	if swept > 0 {
		j.logger.Info("retention sweep complete", "swept", swept, "listed", len(rows))
	}
}

// sweepExpiredSessions deletes sessions past their expiry.
func (j *Janitor) sweepExpiredSessions(ctx context.Context) {
	count, err := j.sessions.DeleteExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("failed to delete expired sessions", "error", err)
		metrics.SweepsTotal.WithLabelValues("sessions", "error").Inc()
		return
	}

	metrics.SweepsTotal.WithLabelValues("sessions", "ok").Inc()
	metrics.SweptRowsTotal.WithLabelValues("sessions").Add(float64(count))

	if count > 0 {
		j.logger.Info("session sweep complete", "deleted", count)
	}
}
