package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

const jobColumns = `id, site_id, type, status, priority, progress, created_at,
	scheduled_for, started_at, completed_at, retry_count, max_retries,
	metadata, result, error`

// JobFilter narrows ListJobs. Zero values mean no filtering.
type JobFilter struct {
	SiteID uuid.UUID
	Type   model.JobType
	Status model.JobStatus
	Limit  int
	Offset int
}

// CreateJob inserts a new queued job.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = model.DefaultMaxRetries
	}
	job.Status = model.JobQueued
	job.CreatedAt = time.Now().UTC()

	metadata := job.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, site_id, type, status, priority, created_at,
			scheduled_for, max_retries, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.SiteID, job.Type, job.Status, job.Priority, job.CreatedAt,
		nullTime(job.ScheduledFor), job.MaxRetries, []byte(metadata))
	return err
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.SiteID != uuid.Nil {
		query += ` AND site_id = ` + arg(filter.SiteID)
	}
	if filter.Type != "" {
		query += ` AND type = ` + arg(filter.Type)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats returns the count of jobs per status.
func (s *Store) JobStats(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ListQueuedJobs returns up to limit runnable jobs in dispatch order:
// highest priority first, then oldest first. Jobs scheduled in the
// future are excluded.
func (s *Store) ListQueuedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND (scheduled_for IS NULL OR scheduled_for <= now())
		ORDER BY priority DESC, created_at ASC
		LIMIT $2`,
		model.JobQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AcquireJobLease transitions one queued job to running, refusing jobs
// scheduled in the future and sites that already have a running job.
// The compare-and-set makes the acquisition safe across concurrent
// dispatchers.
func (s *Store) AcquireJobLease(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = $2, started_at = now()
		WHERE id = $1 AND status = $3
		AND (scheduled_for IS NULL OR scheduled_for <= now())
		AND NOT EXISTS (
			SELECT 1 FROM jobs running
			WHERE running.site_id = jobs.site_id
			AND running.status = $2 AND running.id <> jobs.id
		)`,
		id, model.JobRunning, model.JobQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateJobProgress records a running job's progress percentage.
func (s *Store) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET progress = $2 WHERE id = $1 AND status = $3`,
		id, progress, model.JobRunning)
	return err
}

// CompleteJob finishes a running job with an optional result payload.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	var payload any
	if len(result) > 0 {
		payload = []byte(result)
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = $2, progress = 100, completed_at = now(), result = $3
		WHERE id = $1 AND status = $4`,
		id, model.JobCompleted, payload, model.JobRunning)
	return err
}

// FailJob finishes a job with an error message.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = $2, completed_at = now(), error = $3
		WHERE id = $1 AND status IN ($4, $5)`,
		id, model.JobFailed, msg, model.JobQueued, model.JobRunning)
	return err
}

// CancelJob cancels a queued or running job. Running workers observe
// the cancellation at their next checkpoint.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = $2, completed_at = now()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, model.JobCancelled, model.JobQueued, model.JobRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RetryJob re-queues a failed job that still has retry budget. A
// non-zero delay schedules the retry into the future.
func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, delay time.Duration) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, retry_count = retry_count + 1, progress = 0,
			error = '', started_at = NULL, completed_at = NULL,
			scheduled_for = now() + ($4 * interval '1 millisecond')
		WHERE id = $1 AND status = $3 AND retry_count < max_retries`,
		id, model.JobQueued, model.JobFailed, delay.Milliseconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// HasActiveJob reports whether a site has a queued or running job of
// the given type.
func (s *Store) HasActiveJob(ctx context.Context, siteID uuid.UUID, jobType model.JobType) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE site_id = $1 AND type = $2 AND status IN ($3, $4)
		)`,
		siteID, jobType, model.JobQueued, model.JobRunning).Scan(&exists)
	return exists, err
}

// FindStuckJobs returns running jobs started before the cutoff.
func (s *Store) FindStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2`,
		model.JobRunning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteOldJobs removes terminal jobs completed before the cutoff and
// returns how many were deleted.
func (s *Store) DeleteOldJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND completed_at IS NOT NULL AND completed_at < $4`,
		model.JobCompleted, model.JobFailed, model.JobCancelled, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (model.Job, error) {
	var job model.Job
	var scheduledFor, startedAt, completedAt sql.NullTime
	var metadata, result []byte

	err := row.Scan(&job.ID, &job.SiteID, &job.Type, &job.Status,
		&job.Priority, &job.Progress, &job.CreatedAt,
		&scheduledFor, &startedAt, &completedAt,
		&job.RetryCount, &job.MaxRetries,
		&metadata, &result, &job.Error)
	if err != nil {
		return model.Job{}, err
	}

	job.ScheduledFor = timePtr(scheduledFor)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	job.Metadata = json.RawMessage(metadata)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}
