// Package compare diffs two scans of the same site page by page and
// field by field, weighting each change by impact.
package compare

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

const breadcrumbSeparator = " > "

// Runs diffs the base scan's snapshots against another scan's and
// returns the per-page results plus the aggregate summary. Pages are
// matched by URL; results are ordered by URL.
func Runs(siteID, baseScanID, compareScanID uuid.UUID, base, other []model.PageSnapshot) model.RunComparison {
	baseByURL := indexByURL(base)
	otherByURL := indexByURL(other)

	urls := make([]string, 0, len(baseByURL)+len(otherByURL))
	seen := make(map[string]struct{}, len(baseByURL))
	for url := range baseByURL {
		urls = append(urls, url)
		seen[url] = struct{}{}
	}
	for url := range otherByURL {
		if _, dup := seen[url]; !dup {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)

	out := model.RunComparison{
		SiteID:        siteID,
		BaseScanID:    baseScanID,
		CompareScanID: compareScanID,
		Summary: model.ComparisonSummary{
			BaseTotal:     len(base),
			CompareTotal:  len(other),
			BaseErrors:    countErrors(base),
			CompareErrors: countErrors(other),
		},
	}

	for _, url := range urls {
		b, inBase := baseByURL[url]
		o, inOther := otherByURL[url]

		switch {
		case inBase && !inOther:
			out.Summary.Removed++
			// Diffing against an empty snapshot records every
			// populated field as removed.
			result := comparePage(url, b, &model.PageSnapshot{})
			result.ChangeType = model.ChangeRemoved
			result.Compare = nil
			out.Pages = append(out.Pages, result)
		case !inBase && inOther:
			out.Summary.Added++
			result := comparePage(url, &model.PageSnapshot{}, o)
			result.ChangeType = model.ChangeAdded
			result.Base = nil
			out.Pages = append(out.Pages, result)
		default:
			result := comparePage(url, b, o)
			if result.ChangeType == model.ChangeModified {
				out.Summary.Modified++
			} else {
				out.Summary.Unchanged++
			}
			out.Pages = append(out.Pages, result)
		}
	}

	return out
}

func indexByURL(snaps []model.PageSnapshot) map[string]*model.PageSnapshot {
	byURL := make(map[string]*model.PageSnapshot, len(snaps))
	for i := range snaps {
		byURL[snaps[i].URL] = &snaps[i]
	}
	return byURL
}

func countErrors(snaps []model.PageSnapshot) int {
	n := 0
	for _, snap := range snaps {
		if snap.ResponseCode == 0 || snap.ResponseCode >= 400 {
			n++
		}
	}
	return n
}

func comparePage(url string, base, other *model.PageSnapshot) model.PageComparisonResult {
	result := model.PageComparisonResult{
		URL:        url,
		Base:       base,
		Compare:    other,
		ChangeType: model.ChangeUnchanged,
	}

	var changes []model.FieldChange
	changes = appendScalarChange(changes, "title", base.Title, other.Title, model.ImpactHigh)
	changes = appendScalarChange(changes, "metaDescription", base.MetaDescription, other.MetaDescription, model.ImpactMedium)
	changes = appendScalarChange(changes, "canonicalUrl", base.CanonicalURL, other.CanonicalURL, model.ImpactMedium)
	changes = appendScalarChange(changes, "breadcrumbs",
		strings.Join(base.Breadcrumbs, breadcrumbSeparator),
		strings.Join(other.Breadcrumbs, breadcrumbSeparator),
		model.ImpactLow)
	changes = append(changes, headingChanges(base.Headings, other.Headings)...)
	changes = append(changes, customChanges(base.CustomData, other.CustomData)...)

	if len(changes) > 0 {
		result.ChangeType = model.ChangeModified
		result.Changes = changes
		for _, c := range changes {
			result.Severity = result.Severity.Max(c.Impact)
		}
	}
	return result
}

// appendScalarChange records a modified/added/removed field change when
// the two values differ. A value appearing is "added", disappearing is
// "removed", anything else is "modified".
func appendScalarChange(changes []model.FieldChange, field, oldVal, newVal string, impact model.Impact) []model.FieldChange {
	if oldVal == newVal {
		return changes
	}
	changeType := model.ChangeModified
	if oldVal == "" {
		changeType = model.ChangeAdded
	} else if newVal == "" {
		changeType = model.ChangeRemoved
	}
	return append(changes, model.FieldChange{
		Field:    field,
		Type:     changeType,
		OldValue: oldVal,
		NewValue: newVal,
		Impact:   impact,
	})
}

// headingChanges aligns headings by level and position within that
// level, so inserting an h2 does not cascade spurious diffs through
// the h3 outline below it.
func headingChanges(base, other []model.Heading) []model.FieldChange {
	baseByLevel := groupByLevel(base)
	otherByLevel := groupByLevel(other)

	var changes []model.FieldChange
	for level := 1; level <= 6; level++ {
		b := baseByLevel[level]
		o := otherByLevel[level]
		if len(b) == 0 && len(o) == 0 {
			continue
		}

		field := "header-h" + strconv.Itoa(level)
		impact := headingImpact(level)

		n := len(b)
		if len(o) > n {
			n = len(o)
		}
		for i := 0; i < n; i++ {
			switch {
			case i >= len(b):
				changes = append(changes, model.FieldChange{
					Field: field, Type: model.ChangeAdded, NewValue: o[i], Impact: impact,
				})
			case i >= len(o):
				changes = append(changes, model.FieldChange{
					Field: field, Type: model.ChangeRemoved, OldValue: b[i], Impact: impact,
				})
			case b[i] != o[i]:
				changes = append(changes, model.FieldChange{
					Field: field, Type: model.ChangeModified, OldValue: b[i], NewValue: o[i], Impact: impact,
				})
			}
		}
	}
	return changes
}

func groupByLevel(headings []model.Heading) map[int][]string {
	byLevel := make(map[int][]string)
	for _, h := range headings {
		byLevel[h.Level] = append(byLevel[h.Level], h.Text)
	}
	return byLevel
}

func headingImpact(level int) model.Impact {
	if level <= 2 {
		return model.ImpactHigh
	}
	return model.ImpactMedium
}

// customChanges diffs the custom-selector data maps key by key. The
// price field carries high impact; everything else is low.
func customChanges(base, other map[string]any) []model.FieldChange {
	keys := make([]string, 0, len(base)+len(other))
	seen := make(map[string]struct{}, len(base))
	for k := range base {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range other {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []model.FieldChange
	for _, k := range keys {
		oldVal, inBase := base[k]
		newVal, inOther := other[k]

		oldStr := stringify(oldVal)
		newStr := stringify(newVal)

		impact := model.ImpactLow
		if k == "price" {
			impact = model.ImpactHigh
		}

		switch {
		case inBase && !inOther:
			changes = append(changes, model.FieldChange{
				Field: k, Type: model.ChangeRemoved, OldValue: oldStr, Impact: impact,
			})
		case !inBase && inOther:
			changes = append(changes, model.FieldChange{
				Field: k, Type: model.ChangeAdded, NewValue: newStr, Impact: impact,
			})
		case oldStr != newStr:
			changes = append(changes, model.FieldChange{
				Field: k, Type: model.ChangeModified, OldValue: oldStr, NewValue: newStr, Impact: impact,
			})
		}
	}
	return changes
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
