package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/config"
	"webmonitor/internal/model"
	"webmonitor/internal/store"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu        sync.Mutex
	sites     map[uuid.UUID]model.Site
	jobs      map[uuid.UUID]*model.Job
	scans     map[uuid.UUID]model.Scan
	snapshots map[uuid.UUID][]model.PageSnapshot
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sites:     make(map[uuid.UUID]model.Site),
		jobs:      make(map[uuid.UUID]*model.Job),
		scans:     make(map[uuid.UUID]model.Scan),
		snapshots: make(map[uuid.UUID][]model.PageSnapshot),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) CreateSite(ctx context.Context, site *model.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}
	if site.Status == "" {
		site.Status = model.SiteActive
	}
	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now
	f.sites[site.ID] = *site
	return nil
}

func (f *fakeStore) ListSites(ctx context.Context, status model.SiteStatus) ([]model.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Site
	for _, s := range f.sites {
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) UpdateSiteSettings(ctx context.Context, site *model.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sites[site.ID]; !ok {
		return sql.ErrNoRows
	}
	site.UpdatedAt = time.Now().UTC()
	f.sites[site.ID] = *site
	return nil
}

func (f *fakeStore) UpdateSiteStatus(ctx context.Context, id uuid.UUID, status model.SiteStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[id]
	if !ok {
		return sql.ErrNoRows
	}
	site.Status = status
	f.sites[id] = site
	return nil
}

func (f *fakeStore) DeleteSite(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sites, id)
	return nil
}

func (f *fakeStore) ListScans(ctx context.Context, siteID uuid.UUID, limit int) ([]model.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Scan
	for _, s := range f.scans {
		if s.SiteID == siteID && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSite(ctx context.Context, id uuid.UUID) (model.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[id]
	if !ok {
		return model.Site{}, sql.ErrNoRows
	}
	return site, nil
}

func (f *fakeStore) CreateJob(ctx context.Context, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = model.DefaultMaxRetries
	}
	job.Status = model.JobQueued
	job.CreatedAt = time.Now().UTC()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return model.Job{}, sql.ErrNoRows
	}
	return *job, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Job
	for _, job := range f.jobs {
		if filter.SiteID != uuid.Nil && job.SiteID != filter.SiteID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (f *fakeStore) JobStats(ctx context.Context) (map[model.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[model.JobStatus]int)
	for _, job := range f.jobs {
		stats[job.Status]++
	}
	return stats, nil
}

func (f *fakeStore) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = model.JobCancelled
	return true, nil
}

func (f *fakeStore) RetryJob(ctx context.Context, id uuid.UUID, delay time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobFailed || job.RetryCount >= job.MaxRetries {
		return false, nil
	}
	job.Status = model.JobQueued
	job.RetryCount++
	job.Error = ""
	return true, nil
}

func (f *fakeStore) HasActiveJob(ctx context.Context, siteID uuid.UUID, jobType model.JobType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.SiteID == siteID && job.Type == jobType &&
			(job.Status == model.JobQueued || job.Status == model.JobRunning) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetScan(ctx context.Context, id uuid.UUID) (model.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scan, ok := f.scans[id]
	if !ok {
		return model.Scan{}, sql.ErrNoRows
	}
	return scan, nil
}

func (f *fakeStore) SnapshotsByScan(ctx context.Context, scanID uuid.UUID) ([]model.PageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[scanID], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (p *fakePublisher) Publish(ctx context.Context, job model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, job.ID)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestServer(st Store, q Publisher) *Server {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, st, q, logger)
}

func activeSite(st *fakeStore) model.Site {
	site := model.Site{
		ID:      uuid.New(),
		Name:    "docs",
		RootURL: "https://docs.example.com",
		Status:  model.SiteActive,
	}
	st.sites[site.ID] = site
	return site
}

func postJSON(t *testing.T, s *Server, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, s *Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) JobResponse {
	t.Helper()
	var out JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateJobAccepted(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	pub := &fakePublisher{}
	s := newTestServer(st, pub)

	resp := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "scan"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	out := decodeJob(t, resp)
	if !out.Success || out.Job == nil {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Job.Status != model.JobQueued {
		t.Fatalf("status = %s", out.Job.Status)
	}
	if pub.count() != 1 {
		t.Fatalf("job must be published to the queue, got %d", pub.count())
	}
}

func TestCreateJobScheduledNotPublished(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	pub := &fakePublisher{}
	s := newTestServer(st, pub)

	// A future-scheduled job must wait for the poll loop, not ride
	// the push queue ahead of its time.
	later := time.Now().UTC().Add(time.Hour)
	resp := postJSON(t, s, "/v1/jobs", CreateJobRequest{
		SiteID:       site.ID.String(),
		Type:         "scan",
		ScheduledFor: &later,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if pub.count() != 0 {
		t.Fatalf("scheduled job must not be published, got %d", pub.count())
	}
}

func TestCreateJobUnknownSite(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: uuid.NewString(), Type: "scan"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateJobArchivedSite(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	site.Status = model.SiteArchived
	st.sites[site.ID] = site
	s := newTestServer(st, nil)

	resp := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "scan"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCreateJobUnknownType(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	resp := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "mystery"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateJobDuplicateActive(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	first := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "scan"})
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first job: expected 202, got %d", first.StatusCode)
	}

	second := postJSON(t, s, "/v1/jobs", CreateJobRequest{SiteID: site.ID.String(), Type: "scan"})
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate job: expected 409, got %d", second.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	job := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobQueued}
	st.jobs[job.ID] = job

	resp := postJSON(t, s, "/v1/jobs/"+job.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeJob(t, resp)
	if out.Job == nil || out.Job.Status != model.JobCancelled {
		t.Fatalf("job must be cancelled, got %+v", out.Job)
	}
}

func TestCancelJobTerminalConflict(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	job := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobCompleted}
	st.jobs[job.ID] = job

	resp := postJSON(t, s, "/v1/jobs/"+job.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCancelJobNotFound(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := postJSON(t, s, "/v1/jobs/"+uuid.NewString()+"/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRetryJobRequeuesFailed(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	pub := &fakePublisher{}
	s := newTestServer(st, pub)

	job := &model.Job{
		ID: uuid.New(), SiteID: site.ID, Type: model.JobScan,
		Status: model.JobFailed, MaxRetries: 3, Error: "fetch exploded",
	}
	st.jobs[job.ID] = job

	resp := postJSON(t, s, "/v1/jobs/"+job.ID.String()+"/retry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeJob(t, resp)
	if out.Job == nil || out.Job.Status != model.JobQueued {
		t.Fatalf("job must be re-queued, got %+v", out.Job)
	}
	if pub.count() != 1 {
		t.Fatalf("retried job must be re-published, got %d", pub.count())
	}
}

func TestRetryJobRejectsNonFailed(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	job := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobRunning, MaxRetries: 3}
	st.jobs[job.ID] = job

	resp := postJSON(t, s, "/v1/jobs/"+job.ID.String()+"/retry", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	var out ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Code != "JOB_NOT_FAILED" {
		t.Fatalf("code = %q", out.Code)
	}
}

func TestRetryJobRejectsExhaustedBudget(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	job := &model.Job{
		ID: uuid.New(), SiteID: site.ID, Type: model.JobScan,
		Status: model.JobFailed, RetryCount: 3, MaxRetries: 3,
	}
	st.jobs[job.ID] = job

	resp := postJSON(t, s, "/v1/jobs/"+job.ID.String()+"/retry", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	var out ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Code != "RETRY_BUDGET_EXHAUSTED" {
		t.Fatalf("code = %q", out.Code)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	queued := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobQueued}
	failed := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobFailed}
	st.jobs[queued.ID] = queued
	st.jobs[failed.ID] = failed

	resp := getJSON(t, s, "/v1/jobs?status=failed")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out ListJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Jobs) != 1 || out.Jobs[0].ID != failed.ID {
		t.Fatalf("expected only the failed job, got %+v", out.Jobs)
	}
}

func TestListJobsInvalidLimit(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := getJSON(t, s, "/v1/jobs?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJobStats(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	for _, status := range []model.JobStatus{model.JobQueued, model.JobQueued, model.JobCompleted} {
		job := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: status}
		st.jobs[job.ID] = job
	}

	resp := getJSON(t, s, "/v1/jobs/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out JobStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Stats["queued"] != 2 || out.Stats["completed"] != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
	if out.Total != 3 {
		t.Fatalf("total = %d", out.Total)
	}
}

func TestJobDetail(t *testing.T) {
	st := newFakeStore()
	site := activeSite(st)
	s := newTestServer(st, nil)

	job := &model.Job{ID: uuid.New(), SiteID: site.ID, Type: model.JobScan, Status: model.JobQueued}
	st.jobs[job.ID] = job

	resp := getJSON(t, s, "/v1/jobs/"+job.ID.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeJob(t, resp)
	if out.Job == nil || out.Job.ID != job.ID {
		t.Fatalf("unexpected job: %+v", out.Job)
	}

	resp = getJSON(t, s, "/v1/jobs/"+uuid.NewString())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", resp.StatusCode)
	}

	resp = getJSON(t, s, "/v1/jobs/not-a-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := getJSON(t, s, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["status"] != "ok" || out["db"] != "ok" {
		t.Fatalf("unexpected body: %+v", out)
	}
	if out["version"] == "" || out["timestamp"] == "" {
		t.Fatalf("version and timestamp must be present, got %+v", out)
	}
	if _, ok := out["redis"]; ok {
		t.Fatalf("shallow health must not include redis, got %+v", out)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	st := newFakeStore()
	st.pingErr = errors.New("connection refused")
	s := newTestServer(st, nil)

	resp := getJSON(t, s, "/health")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["status"] != "error" || out["db"] != "error" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestHealthDeepReportsRedisDisabled(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := getJSON(t, s, "/health?deep=true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["redis"] != "disabled" {
		t.Fatalf("redis = %q", out["redis"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(newFakeStore(), nil)

	resp := getJSON(t, s, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Contains(body, []byte("webmonitor_http_requests_total")) {
		t.Fatalf("expected request counters in metrics output, got:\n%s", body)
	}
}
