// Package scan orchestrates one monitoring pass over a site: URL
// discovery, fetch and extract, snapshot persistence, and counter
// rollup.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/crawler"
	"webmonitor/internal/metrics"
	"webmonitor/internal/model"
	"webmonitor/internal/pattern"
	"webmonitor/internal/pool"
	"webmonitor/internal/store"
)

const (
	// urlPreviewCap bounds the scanned-URL list stored on the scan row.
	urlPreviewCap = 1000
	// warningCap bounds the warning list stored on the scan row.
	warningCap = 50
	// cancelCheckURLs and cancelCheckInterval bound how often a running
	// scan polls for cancellation.
	cancelCheckURLs     = 100
	cancelCheckInterval = 5 * time.Second
)

// Store is the persistence surface the scanner needs.
type Store interface {
	GetSite(ctx context.Context, id uuid.UUID) (model.Site, error)
	CreateScan(ctx context.Context, scan *model.Scan) error
	UpdateScan(ctx context.Context, scan *model.Scan) error
	ListPages(ctx context.Context, siteID uuid.UUID) ([]model.Page, error)
	UpsertPage(ctx context.Context, page *model.Page) (bool, error)
	MarkPagesRemoved(ctx context.Context, siteID uuid.UUID, scanStart time.Time) (int64, error)
	InsertSnapshots(ctx context.Context, snapshots []model.PageSnapshot) error
	UpdateSiteRollup(ctx context.Context, id uuid.UUID, totalPages, newPages, changedPages, removedPages int, lastScan, nextScan time.Time) error
}

var _ Store = (*store.Store)(nil)

// Hooks lets the job layer observe a running scan. Progress receives a
// 0-100 percentage; Cancelled is polled at checkpoints and stops the
// scan when it returns true. Either may be nil.
type Hooks struct {
	Progress  func(pct int)
	Cancelled func() bool
}

// Scanner runs scans for sites.
type Scanner struct {
	store         Store
	userAgent     string
	scanFrequency time.Duration
	logger        *slog.Logger
}

// New builds a Scanner. scanFrequency controls how far out the next
// scan is scheduled after a completed one.
func New(st Store, userAgent string, scanFrequency time.Duration, logger *slog.Logger) *Scanner {
	if scanFrequency <= 0 {
		scanFrequency = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{store: st, userAgent: userAgent, scanFrequency: scanFrequency, logger: logger}
}

// settingsSnapshot is the immutable copy of the site configuration a
// scan ran with.
type settingsSnapshot struct {
	DiscoveryMethod model.DiscoveryMethod    `json:"discoveryMethod"`
	Discovery       model.DiscoverySettings  `json:"discovery"`
	Extraction      model.ExtractionSettings `json:"extraction"`
}

// Run executes one full scan for the site and returns the finished
// scan record. The scan row reflects the terminal state even on error.
func (s *Scanner) Run(ctx context.Context, siteID uuid.UUID, hooks Hooks) (*model.Scan, error) {
	return s.run(ctx, siteID, nil, hooks)
}

// Rescan re-fetches and re-extracts the site's known pages without
// running discovery.
func (s *Scanner) Rescan(ctx context.Context, siteID uuid.UUID, hooks Hooks) (*model.Scan, error) {
	pages, err := s.store.ListPages(ctx, siteID)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Status != model.PageRemoved {
			urls = append(urls, p.URL)
		}
	}
	return s.run(ctx, siteID, urls, hooks)
}

// run is the shared scan body. A nil urls slice means discover; an
// explicit slice skips discovery.
func (s *Scanner) run(ctx context.Context, siteID uuid.UUID, urls []string, hooks Hooks) (*model.Scan, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site.Status == model.SiteArchived {
		return nil, ErrSiteArchived
	}

	settings, err := json.Marshal(settingsSnapshot{
		DiscoveryMethod: site.DiscoveryMethod,
		Discovery:       site.Discovery,
		Extraction:      site.Extraction,
	})
	if err != nil {
		return nil, err
	}

	scan := &model.Scan{
		ID:       uuid.New(),
		SiteID:   site.ID,
		Method:   site.DiscoveryMethod,
		Settings: settings,
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	guard := newCancelGuard(hooks.Cancelled)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finish := func(status model.ScanStatus, errMsg string) {
		scan.Status = status
		scan.Error = errMsg
		now := time.Now().UTC()
		scan.CompletedAt = &now
		scan.DurationMs = now.Sub(scan.StartedAt).Milliseconds()
		if err := s.store.UpdateScan(context.WithoutCancel(ctx), scan); err != nil {
			s.logger.Error("persist scan outcome failed", "scan_id", scan.ID, "error", err)
		}
		metrics.RecordScan(string(status), scan.TotalPages, scan.NewPages,
			scan.ChangedPages, scan.RemovedPages, scan.DurationMs)
	}

	// Stage 1: discovery.
	if urls == nil {
		urls = s.discover(runCtx, &site)
	}
	report(hooks, 25)
	if guard.cancelled(len(urls)) {
		finish(model.ScanCancelled, "")
		return scan, nil
	}
	if len(urls) == 0 {
		// An empty discovery completes as a zero-page scan. Pages are
		// left untouched: nothing was fetched, so nothing is marked
		// removed.
		now := time.Now().UTC()
		if err := s.store.UpdateSiteRollup(ctx, site.ID, 0, 0, 0, 0,
			now, now.Add(s.scanFrequency)); err != nil {
			finish(model.ScanFailed, "rollup: "+err.Error())
			return scan, nil
		}
		finish(model.ScanCompleted, "")
		report(hooks, 100)
		return scan, nil
	}

	// Stage 2: fetch and extract, 25 to 75 percent.
	p := pool.New(site.Discovery.Crawl, s.userAgent, s.logger)
	cfgFor := func(url string) model.ExtractionConfig {
		return site.Extraction.ConfigFor(url, pattern.Matches)
	}
	results := p.Run(runCtx, urls, cfgFor, func(done, total int) {
		report(hooks, 25+done*50/total)
		if guard.cancelled(1) {
			cancel()
		}
	})
	if guard.force() {
		finish(model.ScanCancelled, "")
		return scan, nil
	}

	// Stage 3: persist pages and snapshots, 75 to 95 percent.
	if err := s.persist(runCtx, &site, scan, results, hooks, guard); err != nil {
		if errors.Is(err, errCancelled) {
			finish(model.ScanCancelled, "")
			return scan, nil
		}
		finish(model.ScanFailed, err.Error())
		return scan, nil
	}
	report(hooks, 95)

	// Stage 4: rollup and completion.
	now := time.Now().UTC()
	if err := s.store.UpdateSiteRollup(ctx, site.ID,
		scan.TotalPages, scan.NewPages, scan.ChangedPages, scan.RemovedPages,
		now, now.Add(s.scanFrequency)); err != nil {
		finish(model.ScanFailed, "rollup: "+err.Error())
		return scan, nil
	}

	finish(model.ScanCompleted, "")
	report(hooks, 100)
	return scan, nil
}

// discover resolves the site's URL set using its configured method.
func (s *Scanner) discover(ctx context.Context, site *model.Site) []string {
	switch site.DiscoveryMethod {
	case model.DiscoveryCrawling:
		c := crawler.NewCrawler(site.Discovery.Crawl, s.userAgent, s.logger)
		return c.Crawl(ctx, site.RootURL, site.Discovery.Crawl)
	default:
		timeout := time.Duration(site.Discovery.Crawl.TimeoutSeconds) * time.Second
		parser := crawler.NewSitemapParser(timeout, s.userAgent, s.logger)
		return parser.Discover(ctx, site.RootURL, site.Discovery)
	}
}

// ErrSiteArchived rejects scans of archived sites.
var ErrSiteArchived = errors.New("site is archived")

var errCancelled = errors.New("scan cancelled")

func (s *Scanner) persist(ctx context.Context, site *model.Site, scan *model.Scan, results []pool.PageResult, hooks Hooks, guard *cancelGuard) error {
	previous, err := s.store.ListPages(ctx, site.ID)
	if err != nil {
		return err
	}
	priorHash := make(map[string]string, len(previous))
	for _, p := range previous {
		priorHash[p.URL] = p.ContentHash
	}

	snapshots := make([]model.PageSnapshot, 0, len(results))
	for i, r := range results {
		if r.URL == "" {
			continue // unprocessed slot from a cancelled run
		}
		if guard.cancelled(1) {
			return errCancelled
		}

		page := model.Page{
			SiteID:       site.ID,
			URL:          r.URL,
			ContentHash:  r.ContentHash,
			Status:       pageStatus(r),
			ResponseCode: r.Status,
			LoadTimeMs:   r.LoadTimeMs,
		}
		snap := model.PageSnapshot{
			ID:                 uuid.New(),
			ScanID:             scan.ID,
			URL:                r.URL,
			ContentHash:        r.ContentHash,
			ResponseCode:       r.Status,
			LoadTimeMs:         r.LoadTimeMs,
			ExtractionConfigID: r.ConfigID,
		}
		if r.Extract != nil {
			page.Title = r.Extract.Title
			page.MetaDescription = r.Extract.MetaDescription
			page.CanonicalURL = r.Extract.CanonicalURL
			snap.Title = r.Extract.Title
			snap.MetaDescription = r.Extract.MetaDescription
			snap.CanonicalURL = r.Extract.CanonicalURL
			snap.Breadcrumbs = r.Extract.Breadcrumbs
			snap.Headings = r.Extract.Headings
			snap.CustomData = r.Extract.CustomData
			for _, w := range r.Extract.Warnings {
				if len(scan.Warnings) < warningCap {
					scan.Warnings = append(scan.Warnings, r.URL+": "+w)
				}
			}
		}

		isNew, err := s.store.UpsertPage(ctx, &page)
		if err != nil {
			return err
		}
		snap.PageID = page.ID
		snapshots = append(snapshots, snap)

		scan.TotalPages++
		if isNew {
			scan.NewPages++
		} else if hash, ok := priorHash[r.URL]; ok && hash != r.ContentHash && r.Extract != nil {
			scan.ChangedPages++
		}
		if page.Status == model.PageError {
			scan.ErrorPages++
		}
		if len(scan.ScannedURLs) < urlPreviewCap {
			scan.ScannedURLs = append(scan.ScannedURLs, r.URL)
		}

		report(hooks, 75+(i+1)*20/len(results))
	}

	removed, err := s.store.MarkPagesRemoved(ctx, site.ID, scan.StartedAt)
	if err != nil {
		return err
	}
	scan.RemovedPages = int(removed)

	return s.store.InsertSnapshots(ctx, snapshots)
}

func pageStatus(r pool.PageResult) model.PageStatus {
	if r.FetchErr != nil || r.Status == 0 || r.Status >= 400 {
		return model.PageError
	}
	return model.PageActive
}

func report(hooks Hooks, pct int) {
	if hooks.Progress != nil {
		hooks.Progress(pct)
	}
}

// cancelGuard throttles cancellation polling to once per batch of URLs
// or elapsed interval, whichever comes first.
type cancelGuard struct {
	check func() bool

	mu        sync.Mutex
	count     int
	lastCheck time.Time
	stopped   bool
}

func newCancelGuard(check func() bool) *cancelGuard {
	return &cancelGuard{check: check, lastCheck: time.Now()}
}

// cancelled records n processed URLs and polls the check when due.
func (g *cancelGuard) cancelled(n int) bool {
	if g.check == nil {
		return false
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return true
	}
	g.count += n
	due := g.count >= cancelCheckURLs || time.Since(g.lastCheck) >= cancelCheckInterval
	if due {
		g.count = 0
		g.lastCheck = time.Now()
	}
	g.mu.Unlock()

	if !due {
		return false
	}
	if g.check() {
		g.mu.Lock()
		g.stopped = true
		g.mu.Unlock()
		return true
	}
	return false
}

// force polls the check immediately, bypassing the throttle.
func (g *cancelGuard) force() bool {
	if g.check == nil {
		return false
	}
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if stopped {
		return true
	}
	if g.check() {
		g.mu.Lock()
		g.stopped = true
		g.mu.Unlock()
		return true
	}
	return false
}
