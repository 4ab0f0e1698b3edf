package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the monitor.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	scansTotal       = make(map[string]int64)
	scanPagesTotal   = make(map[string]int64)
	scanDurationSum  int64
	jobsTotal        = make(map[jobKey]int64)
	retentionDeleted = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type jobKey struct {
	Type   string
	Status string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordScan records one finished scan by terminal status.
func RecordScan(status string, totalPages, newPages, changedPages, removedPages int, durationMs int64) {
	mu.Lock()
	defer mu.Unlock()

	scansTotal[status]++
	scanPagesTotal["total"] += int64(totalPages)
	scanPagesTotal["new"] += int64(newPages)
	scanPagesTotal["changed"] += int64(changedPages)
	scanPagesTotal["removed"] += int64(removedPages)
	scanDurationSum += durationMs
}

// RecordJob records one job reaching a terminal status.
func RecordJob(jobType, status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[jobKey{Type: jobType, Status: status}]++
}

// RecordRetention increments a retention deletion counter by kind
// (old_jobs, archived_sites, stuck_jobs, stuck_scans).
func RecordRetention(kind string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDeleted[kind] += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP webmonitor_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE webmonitor_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "webmonitor_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP webmonitor_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE webmonitor_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP webmonitor_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE webmonitor_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "webmonitor_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "webmonitor_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP webmonitor_scans_total Total finished scans by status\n")
	b.WriteString("# TYPE webmonitor_scans_total counter\n")

	var scanStatuses []string
	for s := range scansTotal {
		scanStatuses = append(scanStatuses, s)
	}
	sort.Strings(scanStatuses)
	for _, s := range scanStatuses {
		fmt.Fprintf(&b, "webmonitor_scans_total{status=\"%s\"} %d\n", s, scansTotal[s])
	}

	b.WriteString("# HELP webmonitor_scan_pages_total Pages processed by scans, by change kind\n")
	b.WriteString("# TYPE webmonitor_scan_pages_total counter\n")

	var pageKinds []string
	for k := range scanPagesTotal {
		pageKinds = append(pageKinds, k)
	}
	sort.Strings(pageKinds)
	for _, k := range pageKinds {
		fmt.Fprintf(&b, "webmonitor_scan_pages_total{kind=\"%s\"} %d\n", k, scanPagesTotal[k])
	}

	b.WriteString("# HELP webmonitor_scan_duration_ms_sum Total scan duration in milliseconds\n")
	b.WriteString("# TYPE webmonitor_scan_duration_ms_sum counter\n")
	fmt.Fprintf(&b, "webmonitor_scan_duration_ms_sum %d\n", scanDurationSum)

	b.WriteString("# HELP webmonitor_jobs_total Jobs reaching a terminal status\n")
	b.WriteString("# TYPE webmonitor_jobs_total counter\n")

	var jobKeys []jobKey
	for k := range jobsTotal {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].Type != jobKeys[j].Type {
			return jobKeys[i].Type < jobKeys[j].Type
		}
		return jobKeys[i].Status < jobKeys[j].Status
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "webmonitor_jobs_total{type=\"%s\",status=\"%s\"} %d\n",
			k.Type, k.Status, jobsTotal[k])
	}

	b.WriteString("# HELP webmonitor_retention_deleted_total Records recovered or deleted by the reaper\n")
	b.WriteString("# TYPE webmonitor_retention_deleted_total counter\n")

	var kinds []string
	for k := range retentionDeleted {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "webmonitor_retention_deleted_total{kind=\"%s\"} %d\n", k, retentionDeleted[k])
	}

	return b.String()
}
