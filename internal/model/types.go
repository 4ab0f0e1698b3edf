package model

import (
	"time"

	"github.com/google/uuid"
)

// SiteStatus is the lifecycle state of a monitored site.
type SiteStatus string

const (
	SiteActive   SiteStatus = "active"
	SitePaused   SiteStatus = "paused"
	SiteError    SiteStatus = "error"
	SiteArchived SiteStatus = "archived"
)

// DiscoveryMethod selects how a site's URL set is enumerated.
type DiscoveryMethod string

const (
	DiscoverySitemap  DiscoveryMethod = "sitemap"
	DiscoveryCrawling DiscoveryMethod = "crawling"
)

// ScanStatus is the lifecycle state of one scan run.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// PageStatus is the latest known state of a page within its site.
type PageStatus string

const (
	PageActive  PageStatus = "active"
	PageRemoved PageStatus = "removed"
	PageError   PageStatus = "error"
)

// Site is a registered external web property the system monitors.
type Site struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"ownerId"`
	Name    string    `json:"name"`
	RootURL string    `json:"rootUrl"`

	DiscoveryMethod DiscoveryMethod    `json:"discoveryMethod"`
	Discovery       DiscoverySettings  `json:"discovery"`
	Extraction      ExtractionSettings `json:"extraction"`

	// Rollup counters from the last completed scan.
	TotalPages   int `json:"totalPages"`
	NewPages     int `json:"newPages"`
	ChangedPages int `json:"changedPages"`
	RemovedPages int `json:"removedPages"`

	Status     SiteStatus `json:"status"`
	LastScan   *time.Time `json:"lastScan,omitempty"`
	NextScan   *time.Time `json:"nextScan,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// SitemapEntry is one configured sitemap source for a site.
type SitemapEntry struct {
	URL        string            `json:"url" yaml:"url"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Extraction *ExtractionConfig `json:"extraction,omitempty" yaml:"extraction,omitempty"`
}

// Pattern is a glob-style URL pattern that can be toggled per entry.
type Pattern struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// CrawlSettings bounds the breadth-first link crawler.
type CrawlSettings struct {
	MaxDepth        int       `json:"maxDepth" yaml:"maxDepth"`
	MaxPages        int       `json:"maxPages" yaml:"maxPages"`
	CrawlDelayMs    int       `json:"crawlDelayMs" yaml:"crawlDelayMs"`
	MaxConcurrency  int       `json:"maxConcurrency" yaml:"maxConcurrency"`
	TimeoutSeconds  int       `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	FollowExternal  bool      `json:"followExternal" yaml:"followExternal"`
	FollowRedirects bool      `json:"followRedirects" yaml:"followRedirects"`
	RespectRobots   bool      `json:"respectRobotsTxt" yaml:"respectRobotsTxt"`
	IncludePatterns []Pattern `json:"includePatterns,omitempty" yaml:"includePatterns,omitempty"`
	ExcludePatterns []Pattern `json:"excludePatterns,omitempty" yaml:"excludePatterns,omitempty"`
}

// DiscoverySettings holds either sitemap sources or crawling bounds,
// depending on the site's discovery method.
type DiscoverySettings struct {
	Sitemaps           []SitemapEntry `json:"sitemaps,omitempty" yaml:"sitemaps,omitempty"`
	AutoDetect         bool           `json:"autoDetect" yaml:"autoDetect"`
	FollowSitemapIndex bool           `json:"followSitemapIndex" yaml:"followSitemapIndex"`
	Crawl              CrawlSettings  `json:"crawl" yaml:"crawl"`
}

// OpenGraphConfig names which og:* subfields to capture.
type OpenGraphConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Title       bool `json:"title" yaml:"title"`
	Description bool `json:"description" yaml:"description"`
	Image       bool `json:"image" yaml:"image"`
	URL         bool `json:"url" yaml:"url"`
	SiteName    bool `json:"siteName" yaml:"siteName"`
}

// HeadingsConfig controls heading-outline capture.
type HeadingsConfig struct {
	Enabled          bool  `json:"enabled" yaml:"enabled"`
	Levels           []int `json:"levels,omitempty" yaml:"levels,omitempty"`
	IncludeStructure bool  `json:"includeStructure" yaml:"includeStructure"`
	MaxLength        int   `json:"maxLength" yaml:"maxLength"`
}

// BreadcrumbConfig controls breadcrumb-trail capture. Preset names a
// selector set from Presets; "custom" uses Selectors as given.
type BreadcrumbConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Preset     string   `json:"preset" yaml:"preset"`
	Selectors  []string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	Separator  string   `json:"separator" yaml:"separator"`
	RemoveHome bool     `json:"removeHome" yaml:"removeHome"`
	MaxDepth   int      `json:"maxDepth" yaml:"maxDepth"`
}

// NavigationConfig controls navigation and breadcrumb capture.
type NavigationConfig struct {
	Enabled         bool             `json:"enabled" yaml:"enabled"`
	MainSelector    string           `json:"mainSelector,omitempty" yaml:"mainSelector,omitempty"`
	FooterSelector  string           `json:"footerSelector,omitempty" yaml:"footerSelector,omitempty"`
	SidebarSelector string           `json:"sidebarSelector,omitempty" yaml:"sidebarSelector,omitempty"`
	Breadcrumbs     BreadcrumbConfig `json:"breadcrumbs" yaml:"breadcrumbs"`
}

// MainContentConfig controls main-content capture.
type MainContentConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	Selector           string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	ExcludeSelectors   []string `json:"excludeSelectors,omitempty" yaml:"excludeSelectors,omitempty"`
	MaxLength          int      `json:"maxLength" yaml:"maxLength"`
	IncludeImages      bool     `json:"includeImages" yaml:"includeImages"`
	IncludeLinks       bool     `json:"includeLinks" yaml:"includeLinks"`
	PreserveFormatting bool     `json:"preserveFormatting" yaml:"preserveFormatting"`
}

// ProductSelectors name the e-commerce product fields to capture.
type ProductSelectors struct {
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Price        string `json:"price,omitempty" yaml:"price,omitempty"`
	SKU          string `json:"sku,omitempty" yaml:"sku,omitempty"`
	Availability string `json:"availability,omitempty" yaml:"availability,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CategorySelectors name the e-commerce category fields to capture.
type CategorySelectors struct {
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	ProductCount string `json:"productCount,omitempty" yaml:"productCount,omitempty"`
}

// EcommerceConfig groups product and category selector sets.
type EcommerceConfig struct {
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Product  ProductSelectors  `json:"product" yaml:"product"`
	Category CategorySelectors `json:"category" yaml:"category"`
}

// CustomSelector captures one caller-defined field from a page.
type CustomSelector struct {
	Name      string `json:"name" yaml:"name"`
	Selector  string `json:"selector" yaml:"selector"`
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	DataType  string `json:"dataType" yaml:"dataType"` // text, number, url, date, boolean
	Required  bool   `json:"required" yaml:"required"`
}

// ExtractionConfig names which structured fields to capture from a page.
type ExtractionConfig struct {
	ID              string            `json:"id,omitempty" yaml:"id,omitempty"`
	Title           bool              `json:"title" yaml:"title"`
	MetaDescription bool              `json:"metaDescription" yaml:"metaDescription"`
	Canonical       bool              `json:"canonical" yaml:"canonical"`
	MetaKeywords    bool              `json:"metaKeywords" yaml:"metaKeywords"`
	OpenGraph       OpenGraphConfig   `json:"openGraph" yaml:"openGraph"`
	Headings        HeadingsConfig    `json:"headings" yaml:"headings"`
	Navigation      NavigationConfig  `json:"navigation" yaml:"navigation"`
	MainContent     MainContentConfig `json:"mainContent" yaml:"mainContent"`
	Ecommerce       EcommerceConfig   `json:"ecommerce" yaml:"ecommerce"`
	CustomSelectors []CustomSelector  `json:"customSelectors,omitempty" yaml:"customSelectors,omitempty"`
}

// ExtractionOverride applies a different extraction config to URLs
// matching a glob pattern. Higher priority wins; ties break by order.
type ExtractionOverride struct {
	ID         string           `json:"id,omitempty" yaml:"id,omitempty"`
	URLPattern string           `json:"urlPattern" yaml:"urlPattern"`
	Priority   int              `json:"priority" yaml:"priority"`
	Config     ExtractionConfig `json:"config" yaml:"config"`
}

// ExtractionSettings is the per-site default config plus ordered
// per-URL-pattern overrides.
type ExtractionSettings struct {
	Default   ExtractionConfig     `json:"default" yaml:"default"`
	Overrides []ExtractionOverride `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// ConfigFor resolves the effective extraction config for a URL: the
// highest-priority matching override, or the default.
func (s ExtractionSettings) ConfigFor(url string, matches func(url, pattern string) bool) ExtractionConfig {
	best := -1
	cfg := s.Default
	for _, o := range s.Overrides {
		if o.Priority > best && matches(url, o.URLPattern) {
			best = o.Priority
			cfg = o.Config
		}
	}
	return cfg
}

// DefaultExtractionConfig returns the extraction config used when a
// site does not configure one.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		Title:           true,
		MetaDescription: true,
		Canonical:       true,
		Headings: HeadingsConfig{
			Enabled:   true,
			Levels:    []int{1, 2, 3},
			MaxLength: 200,
		},
		Navigation: NavigationConfig{
			Enabled: true,
			Breadcrumbs: BreadcrumbConfig{
				Enabled:   true,
				Preset:    PresetSchema,
				Separator: " > ",
				MaxDepth:  10,
			},
		},
	}
}

// Scan is one end-to-end discovery + fetch + extract + persist pass.
type Scan struct {
	ID     uuid.UUID       `json:"id"`
	SiteID uuid.UUID       `json:"siteId"`
	Method DiscoveryMethod `json:"discoveryMethod"`
	// Settings is the JSON snapshot of the site settings at scan start.
	Settings []byte `json:"-"`

	Status      ScanStatus `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs"`

	TotalPages   int `json:"totalPages"`
	NewPages     int `json:"newPages"`
	ChangedPages int `json:"changedPages"`
	RemovedPages int `json:"removedPages"`
	ErrorPages   int `json:"errorPages"`

	// ScannedURLs is a capped preview of the scan's URL set.
	ScannedURLs []string `json:"scannedUrls,omitempty"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Page is the per-site identity of one URL, carrying its latest state.
type Page struct {
	ID     uuid.UUID `json:"id"`
	SiteID uuid.UUID `json:"siteId"`
	URL    string    `json:"url"`

	ContentHash     string     `json:"contentHash,omitempty"`
	Status          PageStatus `json:"status"`
	Title           string     `json:"title,omitempty"`
	MetaDescription string     `json:"metaDescription,omitempty"`
	CanonicalURL    string     `json:"canonicalUrl,omitempty"`
	ResponseCode    int        `json:"responseCode"`
	LoadTimeMs      int64      `json:"loadTimeMs"`
	FirstSeen       time.Time  `json:"firstSeen"`
	LastSeen        time.Time  `json:"lastSeen"`
}

// Heading is one entry of a page's heading outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// PageSnapshot is the immutable extracted record for one URL within
// one scan.
type PageSnapshot struct {
	ID     uuid.UUID `json:"id"`
	ScanID uuid.UUID `json:"scanId"`
	PageID uuid.UUID `json:"pageId"`
	URL    string    `json:"url"`

	Title              string         `json:"title,omitempty"`
	MetaDescription    string         `json:"metaDescription,omitempty"`
	CanonicalURL       string         `json:"canonicalUrl,omitempty"`
	Breadcrumbs        []string       `json:"breadcrumbs,omitempty"`
	Headings           []Heading      `json:"headings,omitempty"`
	CustomData         map[string]any `json:"customData,omitempty"`
	ContentHash        string         `json:"contentHash,omitempty"`
	ResponseCode       int            `json:"responseCode"`
	LoadTimeMs         int64          `json:"loadTimeMs"`
	ExtractionConfigID string         `json:"extractionConfigId,omitempty"`
}
