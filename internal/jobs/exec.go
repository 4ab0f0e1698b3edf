package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/compare"
	"webmonitor/internal/crawler"
	"webmonitor/internal/model"
	"webmonitor/internal/scan"
)

// scanSummary is the result payload of scan-family jobs.
type scanSummary struct {
	ScanID       uuid.UUID `json:"scanId"`
	TotalPages   int       `json:"totalPages"`
	NewPages     int       `json:"newPages"`
	ChangedPages int       `json:"changedPages"`
	RemovedPages int       `json:"removedPages"`
	ErrorPages   int       `json:"errorPages"`
	DurationMs   int64     `json:"durationMs"`
}

// cancelledCheck builds the scan hook that observes an external job
// cancellation.
func cancelledCheck(ctx context.Context, st Store, jobID uuid.UUID) func() bool {
	return func() bool {
		job, err := st.GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		return job.Status == model.JobCancelled
	}
}

// classifyScanErr marks errors that cannot heal with retries as
// terminal: a missing or archived site stays missing or archived.
func classifyScanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, scan.ErrSiteArchived) {
		return NoRetry(err)
	}
	return err
}

func scanResult(s *model.Scan) (json.RawMessage, error) {
	switch s.Status {
	case model.ScanFailed:
		return nil, errors.New(s.Error)
	case model.ScanCancelled:
		return nil, nil
	}
	return json.Marshal(scanSummary{
		ScanID:       s.ID,
		TotalPages:   s.TotalPages,
		NewPages:     s.NewPages,
		ChangedPages: s.ChangedPages,
		RemovedPages: s.RemovedPages,
		ErrorPages:   s.ErrorPages,
		DurationMs:   s.DurationMs,
	})
}

// ScanExecutor runs full scans: discovery, fetch, extract, persist.
type ScanExecutor struct {
	scanner *scan.Scanner
	store   Store
}

func NewScanExecutor(scanner *scan.Scanner, st Store) *ScanExecutor {
	return &ScanExecutor{scanner: scanner, store: st}
}

func (e *ScanExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	s, err := e.scanner.Run(ctx, job.SiteID, scan.Hooks{
		Progress:  progress,
		Cancelled: cancelledCheck(ctx, e.store, job.ID),
	})
	if err != nil {
		return nil, classifyScanErr(err)
	}
	return scanResult(s)
}

// ExtractionExecutor re-extracts a site's known pages without
// discovery.
type ExtractionExecutor struct {
	scanner *scan.Scanner
	store   Store
}

func NewExtractionExecutor(scanner *scan.Scanner, st Store) *ExtractionExecutor {
	return &ExtractionExecutor{scanner: scanner, store: st}
}

func (e *ExtractionExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	s, err := e.scanner.Rescan(ctx, job.SiteID, scan.Hooks{
		Progress:  progress,
		Cancelled: cancelledCheck(ctx, e.store, job.ID),
	})
	if err != nil {
		return nil, classifyScanErr(err)
	}
	return scanResult(s)
}

// DiscoveryStore is the persistence surface of the discovery executor.
type DiscoveryStore interface {
	GetSite(ctx context.Context, id uuid.UUID) (model.Site, error)
}

// DiscoveryExecutor enumerates a site's URL set without fetching the
// pages, so operators can preview what a scan would cover.
type DiscoveryExecutor struct {
	store     DiscoveryStore
	userAgent string
	logger    *slog.Logger
}

func NewDiscoveryExecutor(st DiscoveryStore, userAgent string, logger *slog.Logger) *DiscoveryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryExecutor{store: st, userAgent: userAgent, logger: logger}
}

func (e *DiscoveryExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	site, err := e.store.GetSite(ctx, job.SiteID)
	if err != nil {
		return nil, classifyScanErr(err)
	}

	var urls []string
	switch site.DiscoveryMethod {
	case model.DiscoveryCrawling:
		c := crawler.NewCrawler(site.Discovery.Crawl, e.userAgent, e.logger)
		urls = c.Crawl(ctx, site.RootURL, site.Discovery.Crawl)
	default:
		timeout := time.Duration(site.Discovery.Crawl.TimeoutSeconds) * time.Second
		parser := crawler.NewSitemapParser(timeout, e.userAgent, e.logger)
		urls = parser.Discover(ctx, site.RootURL, site.Discovery)
	}

	progress(100)
	return json.Marshal(struct {
		Count int      `json:"count"`
		URLs  []string `json:"urls"`
	}{Count: len(urls), URLs: urls})
}

// ComparisonStore is the persistence surface of the comparison
// executor.
type ComparisonStore interface {
	GetScan(ctx context.Context, id uuid.UUID) (model.Scan, error)
	SnapshotsByScan(ctx context.Context, scanID uuid.UUID) ([]model.PageSnapshot, error)
}

// ComparisonExecutor diffs two completed scans of the same site and
// stores the full comparison as the job result.
type ComparisonExecutor struct {
	store ComparisonStore
}

func NewComparisonExecutor(st ComparisonStore) *ComparisonExecutor {
	return &ComparisonExecutor{store: st}
}

type comparisonMetadata struct {
	BaseScanID    uuid.UUID `json:"baseScanId"`
	CompareScanID uuid.UUID `json:"compareScanId"`
}

func (e *ComparisonExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	var meta comparisonMetadata
	if err := json.Unmarshal(job.Metadata, &meta); err != nil {
		return nil, errors.New("comparison job needs baseScanId and compareScanId metadata")
	}

	result, err := CompareScans(ctx, e.store, job.SiteID, meta.BaseScanID, meta.CompareScanID)
	if err != nil {
		return nil, err
	}
	progress(100)
	return json.Marshal(result)
}

// CompareScans loads and diffs two completed scans, validating that
// both belong to the given site.
func CompareScans(ctx context.Context, st ComparisonStore, siteID, baseID, compareID uuid.UUID) (*model.RunComparison, error) {
	baseScan, err := st.GetScan(ctx, baseID)
	if err != nil {
		return nil, err
	}
	otherScan, err := st.GetScan(ctx, compareID)
	if err != nil {
		return nil, err
	}
	if baseScan.SiteID != siteID || otherScan.SiteID != siteID {
		return nil, errors.New("scans belong to different sites")
	}
	if baseScan.Status != model.ScanCompleted || otherScan.Status != model.ScanCompleted {
		return nil, errors.New("both scans must be completed")
	}

	baseSnaps, err := st.SnapshotsByScan(ctx, baseID)
	if err != nil {
		return nil, err
	}
	otherSnaps, err := st.SnapshotsByScan(ctx, compareID)
	if err != nil {
		return nil, err
	}

	result := compare.Runs(siteID, baseID, compareID, baseSnaps, otherSnaps)
	return &result, nil
}

// CleanupExecutor runs one retention sweep on demand.
type CleanupExecutor struct {
	reaper *Reaper
}

func NewCleanupExecutor(reaper *Reaper) *CleanupExecutor {
	return &CleanupExecutor{reaper: reaper}
}

func (e *CleanupExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	stats := e.reaper.Sweep(ctx)
	progress(100)
	return json.Marshal(stats)
}
