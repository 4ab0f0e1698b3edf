package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

const siteColumns = `id, owner_id, name, root_url, discovery_method, discovery, extraction,
	total_pages, new_pages, changed_pages, removed_pages,
	status, last_scan_at, next_scan_at, archived_at, created_at, updated_at`

// CreateSite inserts a new site row.
func (s *Store) CreateSite(ctx context.Context, site *model.Site) error {
	discovery, err := json.Marshal(site.Discovery)
	if err != nil {
		return err
	}
	extraction, err := json.Marshal(site.Extraction)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now
	if site.Status == "" {
		site.Status = model.SiteActive
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO sites (id, owner_id, name, root_url, discovery_method, discovery, extraction,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		site.ID, site.OwnerID, site.Name, site.RootURL, site.DiscoveryMethod,
		discovery, extraction, site.Status, site.CreatedAt, site.UpdatedAt)
	return err
}

// GetSite fetches one site by id.
func (s *Store) GetSite(ctx context.Context, id uuid.UUID) (model.Site, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	return scanSite(row)
}

// ListSites returns sites, optionally filtered by status.
func (s *Store) ListSites(ctx context.Context, status model.SiteStatus) ([]model.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// UpdateSiteSettings replaces a site's name, discovery, and extraction
// configuration.
func (s *Store) UpdateSiteSettings(ctx context.Context, site *model.Site) error {
	discovery, err := json.Marshal(site.Discovery)
	if err != nil {
		return err
	}
	extraction, err := json.Marshal(site.Extraction)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE sites
		SET name = $2, root_url = $3, discovery_method = $4, discovery = $5,
			extraction = $6, updated_at = now()
		WHERE id = $1`,
		site.ID, site.Name, site.RootURL, site.DiscoveryMethod, discovery, extraction)
	return err
}

// UpdateSiteStatus sets a site's status. Archiving also stamps
// archived_at; unarchiving clears it.
func (s *Store) UpdateSiteStatus(ctx context.Context, id uuid.UUID, status model.SiteStatus) error {
	var query string
	if status == model.SiteArchived {
		query = `UPDATE sites SET status = $2, archived_at = now(), updated_at = now() WHERE id = $1`
	} else {
		query = `UPDATE sites SET status = $2, archived_at = NULL, updated_at = now() WHERE id = $1`
	}
	_, err := s.DB.ExecContext(ctx, query, id, status)
	return err
}

// UpdateSiteRollup stores the counters and schedule produced by a
// completed scan.
func (s *Store) UpdateSiteRollup(ctx context.Context, id uuid.UUID, totalPages, newPages, changedPages, removedPages int, lastScan, nextScan time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sites
		SET total_pages = $2, new_pages = $3, changed_pages = $4, removed_pages = $5,
			last_scan_at = $6, next_scan_at = $7, updated_at = now()
		WHERE id = $1`,
		id, totalPages, newPages, changedPages, removedPages, lastScan, nextScan)
	return err
}

// DeleteSite removes a site and, via cascades, its scans, pages,
// snapshots, and jobs.
func (s *Store) DeleteSite(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	return err
}

// DeleteArchivedSites removes sites archived before the cutoff and
// returns how many were deleted.
func (s *Store) DeleteArchivedSites(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM sites WHERE status = $1 AND archived_at IS NOT NULL AND archived_at < $2`,
		model.SiteArchived, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (model.Site, error) {
	var site model.Site
	var discovery, extraction []byte
	var lastScan, nextScan, archivedAt sql.NullTime

	err := row.Scan(&site.ID, &site.OwnerID, &site.Name, &site.RootURL,
		&site.DiscoveryMethod, &discovery, &extraction,
		&site.TotalPages, &site.NewPages, &site.ChangedPages, &site.RemovedPages,
		&site.Status, &lastScan, &nextScan, &archivedAt, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return model.Site{}, err
	}

	if err := json.Unmarshal(discovery, &site.Discovery); err != nil {
		return model.Site{}, err
	}
	if err := json.Unmarshal(extraction, &site.Extraction); err != nil {
		return model.Site{}, err
	}
	site.LastScan = timePtr(lastScan)
	site.NextScan = timePtr(nextScan)
	site.ArchivedAt = timePtr(archivedAt)
	return site, nil
}
