// Package fetcher performs single HTTP GETs with the timeout,
// user-agent, and redirect policy the crawl configuration asks for.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webmonitor/internal/extract"
)

// redirectCap bounds redirect chains when redirects are followed.
const redirectCap = 10

// Result is the outcome of one fetch. Transport failures produce
// Status 0 and a non-nil Err; the fetcher itself never panics or
// returns a Go error to callers.
type Result struct {
	URL         string
	Status      int
	Headers     http.Header
	Body        []byte
	LoadTimeMs  int64
	ContentHash string
	Err         error
}

// IsHTML reports whether the response looked like an HTML document.
func (r *Result) IsHTML() bool {
	ct := r.Headers.Get("Content-Type")
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Fetcher issues GETs with a fixed client configuration.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// Options configures a Fetcher.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	FollowRedirects bool
}

// New builds a Fetcher. A zero timeout defaults to 30s.
func New(opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if !opts.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= redirectCap {
			return http.ErrUseLastResponse
		}
		return nil
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:       timeout,
			CheckRedirect: checkRedirect,
		},
		userAgent: opts.UserAgent,
	}
}

// Fetch GETs one URL. Wall-clock load time covers request start to
// body completion. The content hash is SHA-256 over the body bytes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Result {
	res := &Result{URL: rawURL, Headers: http.Header{}}

	u, err := url.Parse(rawURL)
	if err != nil {
		res.Err = err
		return res
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		res.Err = err
		return res
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		res.LoadTimeMs = time.Since(start).Milliseconds()
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	res.LoadTimeMs = time.Since(start).Milliseconds()
	res.Status = resp.StatusCode
	res.Headers = resp.Header
	if err != nil {
		res.Err = err
		return res
	}

	res.Body = body
	res.ContentHash = extract.Hash(body)
	return res
}
