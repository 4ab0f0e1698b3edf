// Package extract pulls structured snapshot fields out of raw HTML.
// It is tolerant by contract: malformed input never produces an error,
// only absent fields.
package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"webmonitor/internal/model"
)

// Result is the structured record extracted from one page body.
type Result struct {
	Title           string
	MetaDescription string
	CanonicalURL    string
	MetaKeywords    string
	OpenGraph       map[string]string
	Headings        []model.Heading
	Breadcrumbs     []string
	MainContent     string
	Links           []string
	CustomData      map[string]any
	ContentHash     string
	// Warnings collects soft extraction errors (failed required
	// selectors, unknown presets). They never abort extraction.
	Warnings []string
}

// Hash returns the hex-encoded SHA-256 of the raw body bytes.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Extract parses the body and captures the fields named by cfg.
// Relative URLs are resolved against baseURL.
func Extract(body []byte, baseURL string, cfg model.ExtractionConfig) *Result {
	res := &Result{ContentHash: Hash(body)}

	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return res
	}

	if cfg.Title {
		res.Title = cleanText(doc.Find("title").First().Text())
	}
	if cfg.MetaDescription {
		res.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	}
	if cfg.MetaKeywords {
		res.MetaKeywords = strings.TrimSpace(doc.Find(`meta[name="keywords"]`).First().AttrOr("content", ""))
	}
	if cfg.Canonical {
		if href := doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""); href != "" {
			res.CanonicalURL = resolveURL(base, href)
		}
	}
	if cfg.OpenGraph.Enabled {
		res.OpenGraph = extractOpenGraph(doc, cfg.OpenGraph)
	}
	if cfg.Headings.Enabled {
		res.Headings = extractHeadings(doc, cfg.Headings)
	}
	if cfg.Navigation.Enabled && cfg.Navigation.Breadcrumbs.Enabled {
		crumbs, warn := extractBreadcrumbs(doc, cfg.Navigation.Breadcrumbs)
		res.Breadcrumbs = crumbs
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
	}
	if cfg.MainContent.Enabled {
		res.MainContent = extractMainContent(doc, base, cfg.MainContent)
	}
	if cfg.Ecommerce.Enabled {
		res.CustomData = mergeData(res.CustomData, extractEcommerce(doc, cfg.Ecommerce))
	}
	if len(cfg.CustomSelectors) > 0 {
		data, warnings := extractCustom(doc, base, cfg.CustomSelectors)
		res.CustomData = mergeData(res.CustomData, data)
		res.Warnings = append(res.Warnings, warnings...)
	}

	res.Links = ExtractLinks(doc, base)

	return res
}

// ExtractLinks collects all resolvable http(s) hrefs from anchor tags.
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil && !linkURL.IsAbs() {
			linkURL = base.ResolveReference(linkURL)
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""
		links = append(links, linkURL.String())
	})
	if len(links) == 0 {
		return nil
	}
	return links
}

func extractOpenGraph(doc *goquery.Document, cfg model.OpenGraphConfig) map[string]string {
	og := make(map[string]string)
	get := func(prop string) string {
		return strings.TrimSpace(doc.Find(`meta[property="og:` + prop + `"]`).First().AttrOr("content", ""))
	}
	if cfg.Title {
		og["title"] = get("title")
	}
	if cfg.Description {
		og["description"] = get("description")
	}
	if cfg.Image {
		og["image"] = get("image")
	}
	if cfg.URL {
		og["url"] = get("url")
	}
	if cfg.SiteName {
		og["siteName"] = get("site_name")
	}
	for k, v := range og {
		if v == "" {
			delete(og, k)
		}
	}
	if len(og) == 0 {
		return nil
	}
	return og
}

// extractHeadings collects enabled heading levels in document order,
// then stable-sorts by level so document order is the secondary key.
func extractHeadings(doc *goquery.Document, cfg model.HeadingsConfig) []model.Heading {
	levels := cfg.Levels
	if len(levels) == 0 {
		levels = []int{1, 2, 3, 4, 5, 6}
	}
	enabled := make(map[int]bool, len(levels))
	for _, l := range levels {
		if l >= 1 && l <= 6 {
			enabled[l] = true
		}
	}

	headings := make([]model.Heading, 0)
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		level := int(sel.Nodes[0].Data[1] - '0')
		if !enabled[level] {
			return
		}
		text := cleanText(sel.Text())
		if text == "" {
			return
		}
		headings = append(headings, model.Heading{
			Level: level,
			Text:  truncate(text, cfg.MaxLength),
		})
	})

	sort.SliceStable(headings, func(i, j int) bool {
		return headings[i].Level < headings[j].Level
	})

	if len(headings) == 0 {
		return nil
	}
	return headings
}

func extractMainContent(doc *goquery.Document, base *url.URL, cfg model.MainContentConfig) string {
	selector := cfg.Selector
	if selector == "" {
		selector = "body"
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}

	// Work on a clone so exclude-selector removal does not disturb
	// other extractors reading the same document.
	clone := sel.Clone()
	for _, ex := range cfg.ExcludeSelectors {
		clone.Find(ex).Remove()
	}

	var content string
	if cfg.PreserveFormatting {
		htmlStr, err := goquery.OuterHtml(clone)
		if err == nil {
			domain := ""
			if base != nil {
				domain = base.Hostname()
			}
			converter := htmlmd.NewConverter(domain, true, nil)
			if md, err := converter.ConvertString(htmlStr); err == nil {
				content = strings.TrimSpace(md)
			}
		}
	}
	if content == "" {
		content = cleanText(clone.Text())
	}

	return truncate(content, cfg.MaxLength)
}

func extractEcommerce(doc *goquery.Document, cfg model.EcommerceConfig) map[string]any {
	data := make(map[string]any)
	pick := func(key, selector string) {
		if selector == "" {
			return
		}
		if text := cleanText(doc.Find(selector).First().Text()); text != "" {
			data[key] = text
		}
	}
	pick("product_name", cfg.Product.Name)
	pick("price", cfg.Product.Price)
	pick("sku", cfg.Product.SKU)
	pick("availability", cfg.Product.Availability)
	pick("product_description", cfg.Product.Description)
	pick("category_name", cfg.Category.Name)
	pick("product_count", cfg.Category.ProductCount)
	if len(data) == 0 {
		return nil
	}
	return data
}

func extractCustom(doc *goquery.Document, base *url.URL, selectors []model.CustomSelector) (map[string]any, []string) {
	data := make(map[string]any)
	var warnings []string

	for _, cs := range selectors {
		if cs.Name == "" || cs.Selector == "" {
			continue
		}
		sel := doc.Find(cs.Selector).First()
		if sel.Length() == 0 {
			if cs.Required {
				warnings = append(warnings, fmt.Sprintf("required selector %q matched nothing", cs.Name))
			}
			continue
		}

		var raw string
		if cs.Attribute != "" {
			raw = strings.TrimSpace(sel.AttrOr(cs.Attribute, ""))
		} else {
			raw = cleanText(sel.Text())
		}
		if raw == "" {
			if cs.Required {
				warnings = append(warnings, fmt.Sprintf("required selector %q yielded an empty value", cs.Name))
			}
			continue
		}

		val, ok := castValue(raw, cs.DataType, base)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("selector %q: cannot cast %q to %s", cs.Name, raw, cs.DataType))
			continue
		}
		data[cs.Name] = val
	}

	if len(data) == 0 {
		data = nil
	}
	return data, warnings
}

// castValue converts a raw extracted string per the selector's data
// type: text, number, url, date, boolean.
func castValue(raw, dataType string, base *url.URL) (any, bool) {
	switch dataType {
	case "", "text":
		return raw, true
	case "number":
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, raw)
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case "url":
		resolved := resolveURL(base, raw)
		if resolved == "" {
			return nil, false
		}
		return resolved, true
	case "date":
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "01/02/2006"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC().Format(time.RFC3339), true
			}
		}
		return nil, false
	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "yes", "1", "on":
			return true, true
		case "false", "no", "0", "off":
			return false, true
		}
		return nil, false
	}
	return raw, true
}

func resolveURL(base *url.URL, raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// cleanText collapses all whitespace runs to single spaces and trims.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at max runes, appending an ellipsis marker.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func mergeData(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
