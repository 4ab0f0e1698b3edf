package crawler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"webmonitor/internal/extract"
	"webmonitor/internal/fetcher"
	"webmonitor/internal/model"
	"webmonitor/internal/pattern"
)

// Crawler discovers URLs by breadth-first link following, bounded by
// depth and page caps.
type Crawler struct {
	fetch     *fetcher.Fetcher
	userAgent string
	logger    *slog.Logger
}

// NewCrawler builds a crawler from a site's crawl settings.
func NewCrawler(settings model.CrawlSettings, userAgent string, logger *slog.Logger) *Crawler {
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetch: fetcher.New(fetcher.Options{
			Timeout:         timeout,
			UserAgent:       userAgent,
			FollowRedirects: settings.FollowRedirects,
		}),
		userAgent: userAgent,
		logger:    logger,
	}
}

type frontierItem struct {
	url   string
	depth int
}

// Crawl runs BFS discovery from the site root and returns the set of
// URLs that answered 2xx with HTML and pass the include and exclude
// patterns, in discovery order.
func (c *Crawler) Crawl(ctx context.Context, rootURL string, settings model.CrawlSettings) []string {
	root, err := url.Parse(rootURL)
	if err != nil {
		c.logger.Warn("invalid crawl root", "url", rootURL, "error", err)
		return nil
	}
	if root.Scheme == "" {
		root.Scheme = "http"
	}

	maxDepth := settings.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}
	maxPages := settings.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}
	batchSize := settings.MaxConcurrency
	if batchSize <= 0 {
		batchSize = 1
	}

	var robots *robotsCache
	if settings.RespectRobots {
		timeout := time.Duration(settings.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		robots = newRobotsCache(&http.Client{Timeout: timeout}, c.userAgent)
	}

	frontier := []frontierItem{{url: root.String(), depth: 0}}
	visited := make(map[string]struct{})
	discoveredSet := make(map[string]struct{})
	var discovered []string

	for len(frontier) > 0 && len(discovered) < maxPages {
		if ctx.Err() != nil {
			break
		}

		// Take one batch off the frontier, skipping revisits and
		// items beyond the depth bound.
		batch := make([]frontierItem, 0, batchSize)
		for len(frontier) > 0 && len(batch) < batchSize {
			item := frontier[0]
			frontier = frontier[1:]
			if _, seen := visited[item.url]; seen {
				continue
			}
			if item.depth > maxDepth {
				continue
			}
			visited[item.url] = struct{}{}
			batch = append(batch, item)
		}
		if len(batch) == 0 {
			continue
		}

		results := c.fetchBatch(ctx, batch, root, settings, robots)

		for _, r := range results {
			if r.result == nil {
				continue
			}
			// Include patterns filter what is reported, not what is
			// traversed: a non-matching page still contributes its
			// links to the frontier.
			if pattern.ShouldInclude(r.item.url, settings.IncludePatterns, settings.ExcludePatterns) {
				if _, dup := discoveredSet[r.item.url]; !dup && len(discovered) < maxPages {
					discoveredSet[r.item.url] = struct{}{}
					discovered = append(discovered, r.item.url)
				}
			}
			if len(discovered) >= maxPages {
				break
			}

			if r.item.depth >= maxDepth {
				continue
			}
			for _, link := range c.pageLinks(r.result, root, settings) {
				if _, seen := visited[link]; seen {
					continue
				}
				frontier = append(frontier, frontierItem{url: link, depth: r.item.depth + 1})
			}
		}

		if settings.CrawlDelayMs > 0 && len(frontier) > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(settings.CrawlDelayMs) * time.Millisecond):
			}
		}
	}

	return discovered
}

type batchResult struct {
	item   frontierItem
	result *fetcher.Result
}

// fetchBatch fetches a frontier batch concurrently. Items matching an
// exclude pattern or disallowed by robots, non-2xx responses, and
// non-HTML responses yield a nil result.
func (c *Crawler) fetchBatch(ctx context.Context, batch []frontierItem, root *url.URL, settings model.CrawlSettings, robots *robotsCache) []batchResult {
	results := make([]batchResult, len(batch))
	var wg sync.WaitGroup

	for i, item := range batch {
		results[i] = batchResult{item: item}

		if pattern.MatchesAny(item.url, settings.ExcludePatterns) {
			continue
		}
		if robots != nil && !robots.Allowed(ctx, item.url) {
			continue
		}

		wg.Add(1)
		go func(i int, item frontierItem) {
			defer wg.Done()
			res := c.fetch.Fetch(ctx, item.url)
			if res.Err != nil {
				c.logger.Debug("crawl fetch failed", "url", item.url, "error", res.Err)
				return
			}
			if res.Status < 200 || res.Status >= 300 || !res.IsHTML() {
				return
			}
			results[i].result = res
		}(i, item)
	}

	wg.Wait()
	return results
}

// pageLinks extracts and filters the outbound links of a fetched page.
func (c *Crawler) pageLinks(res *fetcher.Result, root *url.URL, settings model.CrawlSettings) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil
	}

	base, err := url.Parse(res.URL)
	if err != nil {
		base = root
	}

	var links []string
	for _, link := range extract.ExtractLinks(doc, base) {
		if !settings.FollowExternal && !sameRegisteredDomain(root.Hostname(), link) {
			continue
		}
		links = append(links, link)
	}
	return links
}

// sameRegisteredDomain reports whether the link's host equals the root
// host or is a subdomain of it.
func sameRegisteredDomain(rootHost, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	rootHost = strings.ToLower(rootHost)
	return host == rootHost || strings.HasSuffix(host, "."+rootHost)
}
