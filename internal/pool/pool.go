// Package pool runs the fetch-and-extract stage of a scan: a bounded
// worker pool that paces requests with a shared token bucket.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"webmonitor/internal/extract"
	"webmonitor/internal/fetcher"
	"webmonitor/internal/model"
)

// PageResult is the outcome of fetching and extracting one URL. Failed
// fetches and non-HTML responses carry a nil Extract; the status and
// timing are still recorded so the scan can persist a snapshot row.
type PageResult struct {
	URL         string
	Status      int
	LoadTimeMs  int64
	ContentHash string
	// ConfigID names the extraction config that produced Extract.
	ConfigID string
	Extract  *extract.Result
	FetchErr error
}

// Pool fetches a URL list with bounded concurrency and a global
// crawl-delay pacer shared by all workers.
type Pool struct {
	fetch       *fetcher.Fetcher
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// New builds a pool from a site's crawl settings.
func New(settings model.CrawlSettings, userAgent string, logger *slog.Logger) *Pool {
	concurrency := settings.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if settings.CrawlDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(settings.CrawlDelayMs)*time.Millisecond), 1)
	}

	return &Pool{
		fetch: fetcher.New(fetcher.Options{
			Timeout:         timeout,
			UserAgent:       userAgent,
			FollowRedirects: settings.FollowRedirects,
		}),
		limiter:     limiter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run processes every URL and returns results in input order. cfgFor
// selects the extraction config for a URL; progress, when non-nil, is
// called after each completed URL with the running count. Run stops
// early when ctx is cancelled and returns the results gathered so far,
// leaving unprocessed slots zero-valued.
func (p *Pool) Run(ctx context.Context, urls []string, cfgFor func(url string) model.ExtractionConfig, progress func(done, total int)) []PageResult {
	results := make([]PageResult, len(urls))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, u := range urls {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = p.processOne(ctx, u, cfgFor)

			mu.Lock()
			done++
			d := done
			mu.Unlock()
			if progress != nil {
				progress(d, len(urls))
			}
		}(i, u)
	}

	wg.Wait()
	return results
}

func (p *Pool) processOne(ctx context.Context, u string, cfgFor func(url string) model.ExtractionConfig) PageResult {
	res := p.fetch.Fetch(ctx, u)

	out := PageResult{
		URL:         u,
		Status:      res.Status,
		LoadTimeMs:  res.LoadTimeMs,
		ContentHash: res.ContentHash,
		FetchErr:    res.Err,
	}
	if res.Err != nil {
		p.logger.Debug("page fetch failed", "url", u, "error", res.Err)
		return out
	}
	if res.Status < 200 || res.Status >= 400 || !res.IsHTML() {
		return out
	}

	cfg := model.DefaultExtractionConfig()
	if cfgFor != nil {
		cfg = cfgFor(u)
	}
	out.ConfigID = cfg.ID
	out.Extract = extract.Extract(res.Body, u, cfg)
	return out
}
