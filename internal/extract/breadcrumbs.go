package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webmonitor/internal/model"
)

// extractBreadcrumbs resolves the breadcrumb trail using the first
// non-empty source: JSON-LD BreadcrumbList, then the configured
// preset's selectors, then custom selectors. Returns a warning string
// for unknown presets.
func extractBreadcrumbs(doc *goquery.Document, cfg model.BreadcrumbConfig) ([]string, string) {
	warn := ""

	crumbs := jsonLDBreadcrumbs(doc)

	if len(crumbs) == 0 {
		selectors, ok := model.PresetSelectors(cfg)
		if !ok {
			warn = fmt.Sprintf("unknown breadcrumb preset %q", cfg.Preset)
		}
		crumbs = selectorBreadcrumbs(doc, selectors)
	}

	if len(crumbs) == 0 && cfg.Preset != model.PresetCustom {
		crumbs = selectorBreadcrumbs(doc, cfg.Selectors)
	}

	if cfg.RemoveHome && len(crumbs) > 0 && strings.EqualFold(crumbs[0], "Home") {
		crumbs = crumbs[1:]
	}
	if cfg.MaxDepth > 0 && len(crumbs) > cfg.MaxDepth {
		crumbs = crumbs[:cfg.MaxDepth]
	}
	if len(crumbs) == 0 {
		return nil, warn
	}
	return crumbs, warn
}

// selectorBreadcrumbs returns the first selector's non-empty result.
func selectorBreadcrumbs(doc *goquery.Document, selectors []string) []string {
	for _, selector := range selectors {
		if selector == "" {
			continue
		}
		var crumbs []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if text := cleanText(sel.Text()); text != "" {
				crumbs = append(crumbs, text)
			}
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}
	return nil
}

// ldBreadcrumbList mirrors the schema.org BreadcrumbList shape.
type ldBreadcrumbList struct {
	Type            string `json:"@type"`
	ItemListElement []struct {
		Name string `json:"name"`
		Item json.RawMessage `json:"item"`
	} `json:"itemListElement"`
}

// jsonLDBreadcrumbs scans ld+json script blocks for a BreadcrumbList
// and yields its item names in order. Malformed blocks are skipped.
func jsonLDBreadcrumbs(doc *goquery.Document) []string {
	var crumbs []string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return true
		}

		for _, list := range decodeBreadcrumbLists([]byte(raw)) {
			for _, el := range list.ItemListElement {
				name := strings.TrimSpace(el.Name)
				if name == "" && len(el.Item) > 0 {
					var item struct {
						Name string `json:"name"`
					}
					if err := json.Unmarshal(el.Item, &item); err == nil {
						name = strings.TrimSpace(item.Name)
					}
				}
				if name != "" {
					crumbs = append(crumbs, name)
				}
			}
			if len(crumbs) > 0 {
				return false
			}
		}
		return true
	})
	return crumbs
}

// decodeBreadcrumbLists handles a bare BreadcrumbList object, an array
// of objects, and objects nested under @graph.
func decodeBreadcrumbLists(raw []byte) []ldBreadcrumbList {
	var out []ldBreadcrumbList

	var single ldBreadcrumbList
	if err := json.Unmarshal(raw, &single); err == nil && single.Type == "BreadcrumbList" {
		out = append(out, single)
		return out
	}

	var many []ldBreadcrumbList
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, l := range many {
			if l.Type == "BreadcrumbList" {
				out = append(out, l)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	var graph struct {
		Graph []ldBreadcrumbList `json:"@graph"`
	}
	if err := json.Unmarshal(raw, &graph); err == nil {
		for _, l := range graph.Graph {
			if l.Type == "BreadcrumbList" {
				out = append(out, l)
			}
		}
	}
	return out
}
