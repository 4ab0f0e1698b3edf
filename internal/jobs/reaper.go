package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/config"
	"webmonitor/internal/metrics"
	"webmonitor/internal/model"
)

// SweepStats captures what one retention sweep recovered and deleted.
type SweepStats struct {
	StuckJobsFailed      int   `json:"stuckJobsFailed"`
	StuckScansFailed     int64 `json:"stuckScansFailed"`
	OldJobsDeleted       int64 `json:"oldJobsDeleted"`
	ArchivedSitesDeleted int64 `json:"archivedSitesDeleted"`
}

// Reaper periodically recovers jobs whose worker died mid-run and
// prunes expired records so the database does not grow without bound.
type Reaper struct {
	cfg    *config.Config
	store  sweepStore
	logger *slog.Logger
}

// sweepStore is the persistence surface of the reaper.
type sweepStore interface {
	FindStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error)
	FailJob(ctx context.Context, id uuid.UUID, msg string) error
	FailStuckScans(ctx context.Context, cutoff time.Time, msg string) (int64, error)
	DeleteOldJobs(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteArchivedSites(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewReaper constructs a Reaper.
func NewReaper(cfg *config.Config, st sweepStore, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{cfg: cfg, store: st, logger: logger}
}

// Start runs the sweep loop until the context ends.
func (r *Reaper) Start(ctx context.Context) {
	if !r.cfg.Retention.Enabled {
		return
	}
	interval := time.Duration(r.cfg.Retention.SweepIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: fail stuck jobs and scans, delete old
// terminal jobs, and delete long-archived sites.
func (r *Reaper) Sweep(ctx context.Context) SweepStats {
	now := time.Now().UTC()
	var stats SweepStats

	stuckAfter := time.Duration(r.cfg.Retention.StuckJobHours) * time.Hour
	if stuckAfter <= 0 {
		stuckAfter = 2 * time.Hour
	}
	stuckCutoff := now.Add(-stuckAfter)
	timeoutMsg := fmt.Sprintf("timed out after %d hours", int(stuckAfter.Hours()))

	stuck, err := r.store.FindStuckJobs(ctx, stuckCutoff)
	if err != nil {
		r.logger.Error("find stuck jobs failed", "error", err)
	}
	for _, job := range stuck {
		if err := r.store.FailJob(ctx, job.ID, timeoutMsg); err != nil {
			r.logger.Error("fail stuck job failed", "job_id", job.ID, "error", err)
			continue
		}
		stats.StuckJobsFailed++
		r.logger.Warn("stuck job failed by reaper", "job_id", job.ID,
			"type", job.Type, "started_at", job.StartedAt)
	}

	if n, err := r.store.FailStuckScans(ctx, stuckCutoff, timeoutMsg); err != nil {
		r.logger.Error("fail stuck scans failed", "error", err)
	} else {
		stats.StuckScansFailed = n
	}

	if days := r.cfg.Retention.OldJobDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := r.store.DeleteOldJobs(ctx, cutoff); err != nil {
			r.logger.Error("delete old jobs failed", "error", err)
		} else {
			stats.OldJobsDeleted = n
		}
	}

	if days := r.cfg.Retention.ArchivedSiteDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := r.store.DeleteArchivedSites(ctx, cutoff); err != nil {
			r.logger.Error("delete archived sites failed", "error", err)
		} else {
			stats.ArchivedSitesDeleted = n
		}
	}

	metrics.RecordRetention("stuck_jobs", int64(stats.StuckJobsFailed))
	metrics.RecordRetention("stuck_scans", stats.StuckScansFailed)
	metrics.RecordRetention("old_jobs", stats.OldJobsDeleted)
	metrics.RecordRetention("archived_sites", stats.ArchivedSitesDeleted)

	if stats != (SweepStats{}) {
		r.logger.Info("retention sweep",
			"stuck_jobs", stats.StuckJobsFailed,
			"stuck_scans", stats.StuckScansFailed,
			"old_jobs_deleted", stats.OldJobsDeleted,
			"archived_sites_deleted", stats.ArchivedSitesDeleted)
	}
	return stats
}
