package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	robotstxt "github.com/temoto/robotstxt"
)

// robotsCache fetches and caches robots.txt once per host for the
// lifetime of one crawl (scan scope).
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether robots.txt permits fetching the URL.
// Unreachable or unparsable robots.txt allows everything.
func (c *robotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	c.mu.Lock()
	group, ok := c.groups[u.Host]
	c.mu.Unlock()

	if !ok {
		group = c.fetch(ctx, u)
		c.mu.Lock()
		c.groups[u.Host] = group
		c.mu.Unlock()
	}

	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

func (c *robotsCache) fetch(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data.FindGroup(c.userAgent)
}
