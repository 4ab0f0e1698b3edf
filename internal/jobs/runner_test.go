package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/config"
	"webmonitor/internal/model"
)

// fakeJobStore is an in-memory Store for dispatcher tests.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

func newFakeJobStore(jobs ...*model.Job) *fakeJobStore {
	st := &fakeJobStore{jobs: make(map[uuid.UUID]*model.Job)}
	for _, j := range jobs {
		st.jobs[j.ID] = j
	}
	return st
}

func (f *fakeJobStore) ListQueuedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Job
	for _, j := range f.jobs {
		if j.Status != model.JobQueued || len(out) >= limit {
			continue
		}
		if j.ScheduledFor != nil && j.ScheduledFor.After(time.Now()) {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeJobStore) AcquireJobLease(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobQueued {
		return false, nil
	}
	if job.ScheduledFor != nil && job.ScheduledFor.After(time.Now()) {
		return false, nil
	}
	for _, other := range f.jobs {
		if other.ID != id && other.SiteID == job.SiteID && other.Status == model.JobRunning {
			return false, nil
		}
	}
	job.Status = model.JobRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	return true, nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return model.Job{}, errors.New("not found")
	}
	return *job, nil
}

func (f *fakeJobStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok && job.Status == model.JobRunning {
		job.Progress = progress
	}
	return nil
}

func (f *fakeJobStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok && job.Status == model.JobRunning {
		job.Status = model.JobCompleted
		job.Progress = 100
		job.Result = result
	}
	return nil
}

func (f *fakeJobStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok && !job.Status.Terminal() {
		job.Status = model.JobFailed
		job.Error = msg
	}
	return nil
}

func (f *fakeJobStore) RetryJob(ctx context.Context, id uuid.UUID, delay time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobFailed || job.RetryCount >= job.MaxRetries {
		return false, nil
	}
	job.Status = model.JobQueued
	job.RetryCount++
	job.Error = ""
	sched := time.Now().UTC().Add(delay)
	job.ScheduledFor = &sched
	return true, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	runs  int
	err   error
	block chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, job model.Job, progress func(int)) (json.RawMessage, error) {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	if e.block != nil {
		<-e.block
	}
	progress(50)
	if e.err != nil {
		return nil, e.err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func queuedJob(siteID uuid.UUID, jobType model.JobType) *model.Job {
	return &model.Job{
		ID:         uuid.New(),
		SiteID:     siteID,
		Type:       jobType,
		Status:     model.JobQueued,
		MaxRetries: model.DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

func testRunner(st Store, execs Executors) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(config.Default(), st, execs, logger)
}

func TestDispatchCompletesJob(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	st := newFakeJobStore(job)
	exec := &fakeExecutor{}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobCompleted {
		t.Fatalf("status = %s error = %q", got.Status, got.Error)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d", got.Progress)
	}
	if string(got.Result) != `{"ok":true}` {
		t.Fatalf("result = %s", got.Result)
	}
	if exec.count() != 1 {
		t.Fatalf("executor runs = %d", exec.count())
	}
}

func TestDispatchSiteMutualExclusion(t *testing.T) {
	siteID := uuid.New()
	running := queuedJob(siteID, model.JobScan)
	running.Status = model.JobRunning
	queued := queuedJob(siteID, model.JobScan)

	st := newFakeJobStore(running, queued)
	exec := &fakeExecutor{}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *queued)

	got, _ := st.GetJob(context.Background(), queued.ID)
	if got.Status != model.JobQueued {
		t.Fatalf("job must stay queued while its site has a running job, got %s", got.Status)
	}
	if exec.count() != 0 {
		t.Fatalf("executor must not run, runs = %d", exec.count())
	}
}

func TestDispatchLeaseLostIsSilent(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	job.Status = model.JobRunning // another dispatcher won the race

	st := newFakeJobStore(job)
	exec := &fakeExecutor{}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	if exec.count() != 0 {
		t.Fatalf("executor must not run without the lease")
	}
}

func TestDispatchFailureRequeuesWithBudget(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	st := newFakeJobStore(job)
	exec := &fakeExecutor{err: errors.New("fetch exploded")}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobQueued {
		t.Fatalf("status = %s, want re-queued", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retryCount = %d", got.RetryCount)
	}
	if got.ScheduledFor == nil || !got.ScheduledFor.After(time.Now().UTC()) {
		t.Fatalf("retry must be scheduled into the future, got %v", got.ScheduledFor)
	}
}

func TestDispatchFailureExhaustedStaysFailed(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	job.RetryCount = job.MaxRetries
	st := newFakeJobStore(job)
	exec := &fakeExecutor{err: errors.New("still broken")}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Error != "still broken" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestDispatchTerminalErrorSkipsRetry(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	st := newFakeJobStore(job)
	exec := &fakeExecutor{err: NoRetry(errors.New("site is archived"))}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobFailed {
		t.Fatalf("status = %s, want failed with no retry", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retryCount = %d, terminal errors must not consume budget", got.RetryCount)
	}
	if got.Error != "site is archived" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestDispatchDeferredJobStaysQueued(t *testing.T) {
	// A push-queue delivery can arrive before the job's scheduled
	// time; the lease must refuse it until it is due.
	job := queuedJob(uuid.New(), model.JobScan)
	later := time.Now().UTC().Add(time.Hour)
	job.ScheduledFor = &later

	st := newFakeJobStore(job)
	exec := &fakeExecutor{}

	r := testRunner(st, Executors{Scan: exec})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobQueued {
		t.Fatalf("status = %s, want queued until due", got.Status)
	}
	if exec.count() != 0 {
		t.Fatalf("executor must not run before the scheduled time")
	}
}

func TestDispatchHonorsConcurrencyCap(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.MaxConcurrentJobs = 1

	first := queuedJob(uuid.New(), model.JobScan)
	second := queuedJob(uuid.New(), model.JobScan)
	st := newFakeJobStore(first, second)

	block := make(chan struct{})
	exec := &fakeExecutor{block: block}
	r := NewRunner(cfg, st, Executors{Scan: exec}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.Dispatch(context.Background(), *first) }()
	go func() { defer wg.Done(); r.Dispatch(context.Background(), *second) }()

	deadline := time.After(2 * time.Second)
	for exec.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no job started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	if exec.count() != 1 {
		t.Fatalf("runs = %d while the only slot is held", exec.count())
	}

	close(block)
	wg.Wait()
	if exec.count() != 2 {
		t.Fatalf("runs = %d after the slot freed", exec.count())
	}
}

func TestDispatchUnknownTypeFails(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobType("mystery"))
	st := newFakeJobStore(job)

	r := testRunner(st, Executors{})
	r.Dispatch(context.Background(), *job)

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Error != "UNKNOWN_JOB_TYPE: mystery" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestDispatchCancelledJobNotOverwritten(t *testing.T) {
	job := queuedJob(uuid.New(), model.JobScan)
	st := newFakeJobStore(job)

	block := make(chan struct{})
	exec := &fakeExecutor{block: block}
	r := testRunner(st, Executors{Scan: exec})

	done := make(chan struct{})
	go func() {
		r.Dispatch(context.Background(), *job)
		close(done)
	}()

	// Wait for the lease, then cancel out from under the executor.
	deadline := time.After(2 * time.Second)
	for {
		got, _ := st.GetJob(context.Background(), job.ID)
		if got.Status == model.JobRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	st.mu.Lock()
	st.jobs[job.ID].Status = model.JobCancelled
	st.mu.Unlock()
	close(block)
	<-done

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != model.JobCancelled {
		t.Fatalf("completion must not overwrite a cancelled job, got %s", got.Status)
	}
}
