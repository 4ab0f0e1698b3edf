package http

import (
	"encoding/json"
	"time"

	"webmonitor/internal/model"
)

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// CreateJobRequest is the payload for POST /v1/jobs.
type CreateJobRequest struct {
	SiteID       string          `json:"siteId"`
	Type         string          `json:"type"`
	Priority     int             `json:"priority,omitempty"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// SiteRequest is the payload for creating or updating a site. On
// update, zero-valued fields keep the stored value.
type SiteRequest struct {
	Name            string                    `json:"name"`
	RootURL         string                    `json:"rootUrl"`
	OwnerID         string                    `json:"ownerId,omitempty"`
	DiscoveryMethod string                    `json:"discoveryMethod,omitempty"`
	Discovery       *model.DiscoverySettings  `json:"discovery,omitempty"`
	Extraction      *model.ExtractionSettings `json:"extraction,omitempty"`
}

// SiteResponse wraps a single site.
type SiteResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Site    *model.Site `json:"site,omitempty"`
}

// ListSitesResponse wraps a site listing.
type ListSitesResponse struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Sites   []model.Site `json:"sites"`
}

// ListScansResponse wraps a site's scan history.
type ListScansResponse struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Scans   []model.Scan `json:"scans"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Job     *model.Job `json:"job,omitempty"`
}

// ListJobsResponse wraps a filtered job listing.
type ListJobsResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Jobs    []model.Job `json:"jobs"`
}

// JobStatsResponse reports job counts per status.
type JobStatsResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Stats   map[string]int `json:"stats,omitempty"`
	Total   int            `json:"total"`
}

// CompareResponse wraps a run comparison.
type CompareResponse struct {
	Success bool                 `json:"success"`
	Code    string               `json:"code,omitempty"`
	Error   string               `json:"error,omitempty"`
	Data    *model.RunComparison `json:"data,omitempty"`
}
