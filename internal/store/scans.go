package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

const scanColumns = `id, site_id, discovery_method, settings, status, started_at, completed_at,
	duration_ms, total_pages, new_pages, changed_pages, removed_pages, error_pages,
	scanned_urls, error, warnings`

// CreateScan inserts a new scan row in the running state.
func (s *Store) CreateScan(ctx context.Context, scan *model.Scan) error {
	settings := scan.Settings
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	scan.Status = model.ScanRunning
	scan.StartedAt = time.Now().UTC()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scans (id, site_id, discovery_method, settings, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		scan.ID, scan.SiteID, scan.Method, settings, scan.Status, scan.StartedAt)
	return err
}

// UpdateScan persists the outcome of a scan: status, counters, timing,
// the URL preview, and any error or warnings.
func (s *Store) UpdateScan(ctx context.Context, scan *model.Scan) error {
	urls, err := json.Marshal(scan.ScannedURLs)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(scan.Warnings)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE scans
		SET status = $2, completed_at = $3, duration_ms = $4,
			total_pages = $5, new_pages = $6, changed_pages = $7,
			removed_pages = $8, error_pages = $9,
			scanned_urls = $10, error = $11, warnings = $12
		WHERE id = $1`,
		scan.ID, scan.Status, nullTime(scan.CompletedAt), scan.DurationMs,
		scan.TotalPages, scan.NewPages, scan.ChangedPages,
		scan.RemovedPages, scan.ErrorPages,
		urls, scan.Error, warnings)
	return err
}

// GetScan fetches one scan by id.
func (s *Store) GetScan(ctx context.Context, id uuid.UUID) (model.Scan, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	return scanScan(row)
}

// ListScans returns a site's scans, newest first.
func (s *Store) ListScans(ctx context.Context, siteID uuid.UUID, limit int) ([]model.Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE site_id = $1 ORDER BY started_at DESC LIMIT $2`,
		siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []model.Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// FailStuckScans marks scans still running since before the cutoff as
// failed and returns how many were affected.
func (s *Store) FailStuckScans(ctx context.Context, cutoff time.Time, msg string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scans SET status = $1, error = $2, completed_at = now()
		WHERE status = $3 AND started_at < $4`,
		model.ScanFailed, msg, model.ScanRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanScan(row rowScanner) (model.Scan, error) {
	var scan model.Scan
	var completedAt sql.NullTime
	var urls, warnings []byte

	err := row.Scan(&scan.ID, &scan.SiteID, &scan.Method, &scan.Settings,
		&scan.Status, &scan.StartedAt, &completedAt,
		&scan.DurationMs, &scan.TotalPages, &scan.NewPages, &scan.ChangedPages,
		&scan.RemovedPages, &scan.ErrorPages,
		&urls, &scan.Error, &warnings)
	if err != nil {
		return model.Scan{}, err
	}

	scan.CompletedAt = timePtr(completedAt)
	if err := json.Unmarshal(urls, &scan.ScannedURLs); err != nil {
		return model.Scan{}, err
	}
	if err := json.Unmarshal(warnings, &scan.Warnings); err != nil {
		return model.Scan{}, err
	}
	return scan, nil
}
