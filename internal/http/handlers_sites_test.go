package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/model"
)

func decodeSite(t *testing.T, resp *http.Response) SiteResponse {
	t.Helper()
	var out SiteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateSiteDefaults(t *testing.T) {
	st := newFakeStore()
	s := newTestServer(st, nil)

	resp := postJSON(t, s, "/v1/sites", SiteRequest{
		Name:    "docs",
		RootURL: "https://docs.example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	out := decodeSite(t, resp)
	if !out.Success || out.Site == nil {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Site.Status != model.SiteActive {
		t.Fatalf("status = %s", out.Site.Status)
	}
	if out.Site.DiscoveryMethod != model.DiscoverySitemap {
		t.Fatalf("discovery method = %s", out.Site.DiscoveryMethod)
	}
	if !out.Site.Extraction.Default.Title {
		t.Fatalf("default extraction config not applied: %+v", out.Site.Extraction)
	}
	if _, ok := st.sites[out.Site.ID]; !ok {
		t.Fatalf("site not persisted")
	}
}

func TestCreateSiteRejectsBadRootURL(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	for _, root := range []string{"", "not-a-url", "ftp://files.example"} {
		resp := postJSON(t, s, "/v1/sites", SiteRequest{Name: "x", RootURL: root})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("rootUrl %q: expected 400, got %d", root, resp.StatusCode)
		}
	}
}

func TestListSitesFiltersByStatus(t *testing.T) {
	st := newFakeStore()
	active := activeSite(st)
	archived := activeSite(st)
	archived.Status = model.SiteArchived
	st.sites[archived.ID] = archived

	s := newTestServer(st, nil)

	resp := getJSON(t, s, "/v1/sites?status=active")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out ListSitesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Sites) != 1 || out.Sites[0].ID != active.ID {
		t.Fatalf("expected only the active site, got %+v", out.Sites)
	}

	resp = getJSON(t, s, "/v1/sites?status=mystery")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestSiteDetail(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	resp := getJSON(t, s, "/v1/sites/"+site.ID.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeSite(t, resp)
	if out.Site == nil || out.Site.ID != site.ID {
		t.Fatalf("unexpected site: %+v", out.Site)
	}

	resp = getJSON(t, s, "/v1/sites/"+uuid.NewString())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", resp.StatusCode)
	}
}

func TestUpdateSiteSettings(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	method := string(model.DiscoveryCrawling)
	req := httptest.NewRequest(http.MethodPut, "/v1/sites/"+site.ID.String(),
		bytes.NewReader(mustJSON(t, SiteRequest{Name: "renamed", DiscoveryMethod: method})))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stored := st.sites[site.ID]
	if stored.Name != "renamed" {
		t.Fatalf("name = %q", stored.Name)
	}
	if stored.DiscoveryMethod != model.DiscoveryCrawling {
		t.Fatalf("discovery method = %s", stored.DiscoveryMethod)
	}
	if stored.RootURL != site.RootURL {
		t.Fatalf("omitted rootUrl must be kept, got %q", stored.RootURL)
	}
}

func TestArchiveAndUnarchiveSite(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	resp := postJSON(t, s, "/v1/sites/"+site.ID.String()+"/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d", resp.StatusCode)
	}
	if st.sites[site.ID].Status != model.SiteArchived {
		t.Fatalf("status = %s", st.sites[site.ID].Status)
	}

	// Archived sites reject new jobs until unarchived.
	resp = postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "scan"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("job on archived site: expected 409, got %d", resp.StatusCode)
	}

	resp = postJSON(t, s, "/v1/sites/"+site.ID.String()+"/unarchive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unarchive: expected 200, got %d", resp.StatusCode)
	}
	if st.sites[site.ID].Status != model.SiteActive {
		t.Fatalf("status = %s", st.sites[site.ID].Status)
	}
}

func TestDeleteSite(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	req := httptest.NewRequest(http.MethodDelete, "/v1/sites/"+site.ID.String(), nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if _, ok := st.sites[site.ID]; ok {
		t.Fatalf("site still present after delete")
	}
}

func TestListSiteScans(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	done := time.Now().UTC()
	scan := model.Scan{
		ID:          uuid.New(),
		SiteID:      site.ID,
		Status:      model.ScanCompleted,
		StartedAt:   done.Add(-time.Minute),
		CompletedAt: &done,
		TotalPages:  3,
	}
	st.scans[scan.ID] = scan

	resp := getJSON(t, s, "/v1/sites/"+site.ID.String()+"/scans")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out ListScansResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Scans) != 1 || out.Scans[0].ID != scan.ID {
		t.Fatalf("scans = %+v", out.Scans)
	}

	resp = getJSON(t, s, "/v1/sites/"+site.ID.String()+"/scans?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
