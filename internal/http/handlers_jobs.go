package http

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"webmonitor/internal/model"
	"webmonitor/internal/store"
)

// scheduledAhead reports whether a job's scheduled time is still in
// the future.
func scheduledAhead(at *time.Time) bool {
	return at != nil && at.After(time.Now())
}

var jobTypes = map[model.JobType]bool{
	model.JobScan:       true,
	model.JobDiscovery:  true,
	model.JobExtraction: true,
	model.JobComparison: true,
	model.JobCleanup:    true,
}

// createJobHandler enqueues a new job after validating its site. The
// job is accepted, not executed: a worker picks it up from the queue
// or the next poll.
func createJobHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid JSON body",
		})
	}

	jobType := model.JobType(req.Type)
	if !jobTypes[jobType] {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "unknown job type: " + req.Type,
		})
	}

	siteID, err := uuid.Parse(req.SiteID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid site id",
		})
	}

	site, err := st.GetSite(c.Context(), siteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "SITE_NOT_FOUND",
				Error:   "site not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if site.Status == model.SiteArchived {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "SITE_ARCHIVED",
			Error:   "archived sites cannot be scanned",
		})
	}

	active, err := st.HasActiveJob(c.Context(), siteID, jobType)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if active {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_ALREADY_ACTIVE",
			Error:   "a job of this type is already queued or running for this site",
		})
	}

	job := model.Job{
		SiteID:       siteID,
		Type:         jobType,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
		Metadata:     req.Metadata,
	}
	if err := st.CreateJob(c.Context(), &job); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	// Wake a worker faster than the next poll would. Failure here is
	// harmless: the polling dispatcher still finds the job. Jobs
	// scheduled in the future stay with the poll loop until due.
	if q := queueFromCtx(c); q != nil && !scheduledAhead(job.ScheduledFor) {
		_ = q.Publish(c.Context(), job)
	}

	return c.Status(fiber.StatusAccepted).JSON(JobResponse{
		Success: true,
		Job:     &job,
	})
}

// jobDetailHandler returns one job by id.
func jobDetailHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := st.GetJob(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(JobResponse{
		Success: true,
		Job:     &job,
	})
}

// listJobsHandler lists jobs filtered by status, site, and type.
func listJobsHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	filter := store.JobFilter{
		Type:   model.JobType(c.Query("type")),
		Status: model.JobStatus(c.Query("status")),
	}

	if v := c.Query("siteId"); v != "" {
		siteID, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid site id",
			})
		}
		filter.SiteID = siteID
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		filter.Limit = n
	}

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid offset value",
			})
		}
		filter.Offset = n
	}

	jobs, err := st.ListJobs(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_LIST_FAILED",
			Error:   err.Error(),
		})
	}
	if jobs == nil {
		jobs = []model.Job{}
	}

	return c.Status(fiber.StatusOK).JSON(ListJobsResponse{
		Success: true,
		Jobs:    jobs,
	})
}

// jobStatsHandler reports job counts per status.
func jobStatsHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	stats, err := st.JobStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	out := make(map[string]int, len(stats))
	total := 0
	for status, n := range stats {
		out[string(status)] = n
		total += n
	}

	return c.Status(fiber.StatusOK).JSON(JobStatsResponse{
		Success: true,
		Stats:   out,
		Total:   total,
	})
}

// cancelJobHandler cancels a queued or running job. Terminal jobs
// conflict.
func cancelJobHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	cancelled, err := st.CancelJob(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if !cancelled {
		job, err := st.GetJob(c.Context(), jobID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "job not found",
			})
		}
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_ALREADY_TERMINAL",
			Error:   "job is already " + string(job.Status),
		})
	}

	job, err := st.GetJob(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusOK).JSON(JobResponse{Success: true})
	}
	return c.Status(fiber.StatusOK).JSON(JobResponse{
		Success: true,
		Job:     &job,
	})
}

// retryJobHandler re-queues a failed job immediately. Jobs that are
// not failed, or whose retry budget is exhausted, conflict.
func retryJobHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	requeued, err := st.RetryJob(c.Context(), jobID, 0)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if !requeued {
		job, err := st.GetJob(c.Context(), jobID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "job not found",
			})
		}
		if job.Status != model.JobFailed {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Success: false,
				Code:    "JOB_NOT_FAILED",
				Error:   "only failed jobs can be retried",
			})
		}
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "RETRY_BUDGET_EXHAUSTED",
			Error:   "job has no retries remaining",
		})
	}

	job, err := st.GetJob(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusOK).JSON(JobResponse{Success: true})
	}

	if q := queueFromCtx(c); q != nil {
		_ = q.Publish(c.Context(), job)
	}

	return c.Status(fiber.StatusOK).JSON(JobResponse{
		Success: true,
		Job:     &job,
	})
}
