// Package http exposes the jobs-centric REST API: job submission and
// lifecycle actions, job listings and stats, scan comparisons, health
// and metrics.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"webmonitor/internal/config"
	"webmonitor/internal/metrics"
	"webmonitor/internal/model"
	"webmonitor/internal/store"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Store is the persistence surface the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	CreateSite(ctx context.Context, site *model.Site) error
	GetSite(ctx context.Context, id uuid.UUID) (model.Site, error)
	ListSites(ctx context.Context, status model.SiteStatus) ([]model.Site, error)
	UpdateSiteSettings(ctx context.Context, site *model.Site) error
	UpdateSiteStatus(ctx context.Context, id uuid.UUID, status model.SiteStatus) error
	DeleteSite(ctx context.Context, id uuid.UUID) error
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	JobStats(ctx context.Context) (map[model.JobStatus]int, error)
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)
	RetryJob(ctx context.Context, id uuid.UUID, delay time.Duration) (bool, error)
	HasActiveJob(ctx context.Context, siteID uuid.UUID, jobType model.JobType) (bool, error)
	GetScan(ctx context.Context, id uuid.UUID) (model.Scan, error)
	ListScans(ctx context.Context, siteID uuid.UUID, limit int) ([]model.Scan, error)
	SnapshotsByScan(ctx context.Context, scanID uuid.UUID) ([]model.PageSnapshot, error)
}

// Publisher pushes job notifications to workers. Nil means workers
// rely on database polling alone.
type Publisher interface {
	Publish(ctx context.Context, job model.Job) error
}

type Server struct {
	app    *fiber.App
	config *config.Config
	store  Store
	logger *slog.Logger
}

func NewServer(cfg *config.Config, st Store, queue Publisher, logger *slog.Logger) *Server {
	app := fiber.New()

	// Inject config, store, and queue into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		if queue != nil {
			c.Locals("queue", queue)
		}
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds())
		}

		return err
	})

	// Redis client for rate limiting and health checks
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.Ping(ctx); err != nil {
			dbStatus = "error"
		}

		body := fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   Version,
			"db":        dbStatus,
		}

		// Deep health additionally checks Redis connectivity.
		if c.Query("deep") == "true" {
			redisStatus := "disabled"
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					redisStatus = "error"
				} else {
					redisStatus = "ok"
				}
			}
			body["redis"] = redisStatus
		}

		if dbStatus != "ok" {
			body["status"] = "error"
			return c.Status(fiber.StatusInternalServerError).JSON(body)
		}
		return c.JSON(body)
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/v1", rateMw)
	registerV1Routes(v1)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
	}
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerV1Routes(group fiber.Router) {
	group.Post("/sites", createSiteHandler)
	group.Get("/sites", listSitesHandler)
	group.Get("/sites/:id", siteDetailHandler)
	group.Put("/sites/:id", updateSiteHandler)
	group.Post("/sites/:id/archive", archiveSiteHandler)
	group.Post("/sites/:id/unarchive", unarchiveSiteHandler)
	group.Delete("/sites/:id", deleteSiteHandler)
	group.Get("/sites/:id/scans", listScansHandler)
	group.Post("/jobs", createJobHandler)
	group.Get("/jobs/stats", jobStatsHandler)
	group.Get("/jobs", listJobsHandler)
	group.Get("/jobs/:id", jobDetailHandler)
	group.Post("/jobs/:id/cancel", cancelJobHandler)
	group.Post("/jobs/:id/retry", retryJobHandler)
	group.Post("/scans/:base/compare/:other", compareScansHandler)
}

// storeFromCtx pulls the injected store out of the request context.
func storeFromCtx(c *fiber.Ctx) Store {
	return c.Locals("store").(Store)
}

func queueFromCtx(c *fiber.Ctx) Publisher {
	if val := c.Locals("queue"); val != nil {
		if q, ok := val.(Publisher); ok {
			return q
		}
	}
	return nil
}
