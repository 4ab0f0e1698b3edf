// Package crawler implements URL discovery: XML sitemap resolution
// (including sitemap-index recursion) and breadth-first link crawling.
package crawler

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"webmonitor/internal/model"
)

// sitemapIndexDepthCap bounds sitemap-index recursion.
const sitemapIndexDepthCap = 5

// autoDetectPaths are probed under the site root when no sitemaps are
// configured and auto-detect is on.
var autoDetectPaths = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemaps.xml"}

// SitemapParser resolves sitemap documents into URL lists.
type SitemapParser struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewSitemapParser builds a parser with a per-request timeout and the
// configured user agent.
func NewSitemapParser(timeout time.Duration, userAgent string, logger *slog.Logger) *SitemapParser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapParser{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// Discover resolves every enabled sitemap entry (or the auto-detect
// probes when the list is empty) into a deduped URL list preserving
// first-seen order. Individual sitemap failures are logged and
// skipped; discovery continues with the remaining sources.
func (p *SitemapParser) Discover(ctx context.Context, rootURL string, settings model.DiscoverySettings) []string {
	sources := make([]string, 0, len(settings.Sitemaps))
	for _, entry := range settings.Sitemaps {
		if entry.Enabled && entry.URL != "" {
			sources = append(sources, entry.URL)
		}
	}
	if len(sources) == 0 && settings.AutoDetect {
		sources = autoDetectSitemaps(rootURL)
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, src := range sources {
		for _, u := range p.parse(ctx, src, settings.FollowSitemapIndex, 0) {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls
}

// parse fetches one sitemap document and returns its URLs, recursing
// into sitemap-index children when followIndex is set.
func (p *SitemapParser) parse(ctx context.Context, sitemapURL string, followIndex bool, depth int) []string {
	if depth > sitemapIndexDepthCap {
		p.logger.Warn("sitemap index recursion too deep, skipping", "url", sitemapURL)
		return nil
	}

	body, err := p.get(ctx, sitemapURL)
	if err != nil {
		p.logger.Warn("sitemap fetch failed, skipping", "url", sitemapURL, "error", err)
		return nil
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		p.logger.Warn("sitemap parse failed, skipping", "url", sitemapURL, "error", err)
		return nil
	}

	if doc.XMLName.Local == "sitemapindex" {
		if !followIndex {
			return nil
		}
		var urls []string
		for _, child := range doc.Sitemaps {
			if child.Loc == "" {
				continue
			}
			urls = append(urls, p.parse(ctx, child.Loc, followIndex, depth+1)...)
		}
		return urls
	}

	urls := make([]string, 0, len(doc.URLs))
	for _, entry := range doc.URLs {
		if entry.Loc != "" {
			urls = append(urls, entry.Loc)
		}
	}
	return urls
}

func (p *SitemapParser) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("non-200 sitemap response: " + resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// autoDetectSitemaps returns the conventional sitemap locations under
// the site root.
func autoDetectSitemaps(rootURL string) []string {
	base, err := url.Parse(rootURL)
	if err != nil {
		return nil
	}
	probes := make([]string, 0, len(autoDetectPaths))
	for _, path := range autoDetectPaths {
		probe := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: path}
		probes = append(probes, probe.String())
	}
	return probes
}
