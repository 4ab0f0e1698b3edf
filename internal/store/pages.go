package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

// UpsertPage inserts or refreshes the per-site identity row for a URL.
// first_seen is preserved across updates; last_seen always advances.
// The returned flag reports whether the page was newly created.
func (s *Store) UpsertPage(ctx context.Context, page *model.Page) (bool, error) {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	now := time.Now().UTC()

	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO pages (id, site_id, url, content_hash, status, title,
			meta_description, canonical_url, response_code, load_time_ms,
			first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (site_id, url) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			meta_description = EXCLUDED.meta_description,
			canonical_url = EXCLUDED.canonical_url,
			response_code = EXCLUDED.response_code,
			load_time_ms = EXCLUDED.load_time_ms,
			last_seen = EXCLUDED.last_seen
		RETURNING id, first_seen, (xmax = 0) AS inserted`,
		page.ID, page.SiteID, page.URL, page.ContentHash, page.Status,
		page.Title, page.MetaDescription, page.CanonicalURL,
		page.ResponseCode, page.LoadTimeMs, now)

	var inserted bool
	if err := row.Scan(&page.ID, &page.FirstSeen, &inserted); err != nil {
		return false, err
	}
	page.LastSeen = now
	return inserted, nil
}

// ListPages returns a site's pages ordered by URL.
func (s *Store) ListPages(ctx context.Context, siteID uuid.UUID) ([]model.Page, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, site_id, url, content_hash, status, title, meta_description,
			canonical_url, response_code, load_time_ms, first_seen, last_seen
		FROM pages WHERE site_id = $1 ORDER BY url`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		var p model.Page
		if err := rows.Scan(&p.ID, &p.SiteID, &p.URL, &p.ContentHash, &p.Status,
			&p.Title, &p.MetaDescription, &p.CanonicalURL,
			&p.ResponseCode, &p.LoadTimeMs, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// MarkPagesRemoved flags pages not touched since the scan started as
// removed and returns how many were flagged.
func (s *Store) MarkPagesRemoved(ctx context.Context, siteID uuid.UUID, scanStart time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE pages SET status = $3
		WHERE site_id = $1 AND last_seen < $2 AND status <> $3`,
		siteID, scanStart, model.PageRemoved)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertSnapshots writes a scan's snapshot rows in one transaction.
func (s *Store) InsertSnapshots(ctx context.Context, snapshots []model.PageSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO page_snapshots (id, scan_id, page_id, url, title,
			meta_description, canonical_url, breadcrumbs, headings, custom_data,
			content_hash, response_code, load_time_ms, extraction_config_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (scan_id, page_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		if snap.ID == uuid.Nil {
			snap.ID = uuid.New()
		}
		breadcrumbs, err := json.Marshal(snap.Breadcrumbs)
		if err != nil {
			return err
		}
		headings, err := json.Marshal(snap.Headings)
		if err != nil {
			return err
		}
		custom, err := json.Marshal(snap.CustomData)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, snap.ID, snap.ScanID, snap.PageID,
			snap.URL, snap.Title, snap.MetaDescription, snap.CanonicalURL,
			breadcrumbs, headings, custom,
			snap.ContentHash, snap.ResponseCode, snap.LoadTimeMs,
			snap.ExtractionConfigID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SnapshotsByScan returns every snapshot of one scan, ordered by URL.
func (s *Store) SnapshotsByScan(ctx context.Context, scanID uuid.UUID) ([]model.PageSnapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, scan_id, page_id, url, title, meta_description, canonical_url,
			breadcrumbs, headings, custom_data, content_hash, response_code,
			load_time_ms, extraction_config_id
		FROM page_snapshots WHERE scan_id = $1 ORDER BY url`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PageSnapshot
	for rows.Next() {
		var snap model.PageSnapshot
		var breadcrumbs, headings, custom []byte
		if err := rows.Scan(&snap.ID, &snap.ScanID, &snap.PageID, &snap.URL,
			&snap.Title, &snap.MetaDescription, &snap.CanonicalURL,
			&breadcrumbs, &headings, &custom,
			&snap.ContentHash, &snap.ResponseCode, &snap.LoadTimeMs,
			&snap.ExtractionConfigID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(breadcrumbs, &snap.Breadcrumbs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headings, &snap.Headings); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(custom, &snap.CustomData); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
