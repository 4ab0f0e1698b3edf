package model

import "github.com/google/uuid"

// ChangeType classifies how a page or field differs between two scans.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeRemoved   ChangeType = "removed"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
)

// Impact is the qualitative weight of a field change.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// rank orders impacts for max() comparisons.
func (i Impact) rank() int {
	switch i {
	case ImpactHigh:
		return 3
	case ImpactMedium:
		return 2
	case ImpactLow:
		return 1
	}
	return 0
}

// Max returns the higher of two impacts.
func (i Impact) Max(other Impact) Impact {
	if other.rank() > i.rank() {
		return other
	}
	return i
}

// FieldChange is one per-field difference between two snapshots.
type FieldChange struct {
	Field    string     `json:"field"`
	Type     ChangeType `json:"type"`
	OldValue string     `json:"oldValue,omitempty"`
	NewValue string     `json:"newValue,omitempty"`
	Impact   Impact     `json:"impact"`
}

// PageComparisonResult is the diff outcome for one URL.
type PageComparisonResult struct {
	URL        string        `json:"url"`
	Base       *PageSnapshot `json:"base,omitempty"`
	Compare    *PageSnapshot `json:"compare,omitempty"`
	ChangeType ChangeType    `json:"changeType"`
	Changes    []FieldChange `json:"changes,omitempty"`
	Severity   Impact        `json:"severity,omitempty"`
}

// ComparisonSummary aggregates a run comparison.
type ComparisonSummary struct {
	BaseTotal     int `json:"baseTotal"`
	CompareTotal  int `json:"compareTotal"`
	Added         int `json:"added"`
	Removed       int `json:"removed"`
	Modified      int `json:"modified"`
	Unchanged     int `json:"unchanged"`
	BaseErrors    int `json:"baseErrors"`
	CompareErrors int `json:"compareErrors"`
}

// RunComparison is the full diff between two scans of the same site.
type RunComparison struct {
	SiteID        uuid.UUID              `json:"siteId"`
	BaseScanID    uuid.UUID              `json:"baseScanId"`
	CompareScanID uuid.UUID              `json:"compareScanId"`
	Summary       ComparisonSummary      `json:"summary"`
	Pages         []PageComparisonResult `json:"pages"`
}
