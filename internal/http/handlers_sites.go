package http

import (
	"database/sql"
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"webmonitor/internal/model"
)

var siteStatuses = map[model.SiteStatus]bool{
	model.SiteActive:   true,
	model.SitePaused:   true,
	model.SiteError:    true,
	model.SiteArchived: true,
}

// createSiteHandler registers a new site to monitor. Omitted discovery
// and extraction settings get the defaults.
func createSiteHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	var req SiteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid JSON body",
		})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "name is required",
		})
	}
	if !validRootURL(req.RootURL) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "rootUrl must be an absolute http(s) URL",
		})
	}

	site := model.Site{
		ID:              uuid.New(),
		Name:            req.Name,
		RootURL:         req.RootURL,
		DiscoveryMethod: model.DiscoverySitemap,
		Discovery: model.DiscoverySettings{
			AutoDetect:         true,
			FollowSitemapIndex: true,
			Crawl: model.CrawlSettings{
				MaxDepth:        3,
				MaxPages:        100,
				MaxConcurrency:  4,
				TimeoutSeconds:  30,
				FollowRedirects: true,
			},
		},
		Extraction: model.ExtractionSettings{Default: model.DefaultExtractionConfig()},
		Status:     model.SiteActive,
	}
	if req.OwnerID != "" {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid owner id",
			})
		}
		site.OwnerID = ownerID
	}
	if req.DiscoveryMethod != "" {
		method := model.DiscoveryMethod(req.DiscoveryMethod)
		if method != model.DiscoverySitemap && method != model.DiscoveryCrawling {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "unknown discovery method: " + req.DiscoveryMethod,
			})
		}
		site.DiscoveryMethod = method
	}
	if req.Discovery != nil {
		site.Discovery = *req.Discovery
	}
	if req.Extraction != nil {
		site.Extraction = *req.Extraction
	}

	if err := st.CreateSite(c.Context(), &site); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SITE_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(SiteResponse{
		Success: true,
		Site:    &site,
	})
}

// listSitesHandler lists sites, optionally filtered by status.
func listSitesHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	status := model.SiteStatus(c.Query("status"))
	if status != "" && !siteStatuses[status] {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "unknown status: " + string(status),
		})
	}

	sites, err := st.ListSites(c.Context(), status)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if sites == nil {
		sites = []model.Site{}
	}

	return c.Status(fiber.StatusOK).JSON(ListSitesResponse{
		Success: true,
		Sites:   sites,
	})
}

// siteDetailHandler returns one site by id.
func siteDetailHandler(c *fiber.Ctx) error {
	site, ok := siteFromParam(c)
	if !ok {
		return nil
	}

	return c.Status(fiber.StatusOK).JSON(SiteResponse{
		Success: true,
		Site:    &site,
	})
}

// updateSiteHandler replaces a site's name, root URL, and discovery
// and extraction settings.
func updateSiteHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	site, ok := siteFromParam(c)
	if !ok {
		return nil
	}

	var req SiteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid JSON body",
		})
	}

	if req.Name != "" {
		site.Name = req.Name
	}
	if req.RootURL != "" {
		if !validRootURL(req.RootURL) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "rootUrl must be an absolute http(s) URL",
			})
		}
		site.RootURL = req.RootURL
	}
	if req.DiscoveryMethod != "" {
		method := model.DiscoveryMethod(req.DiscoveryMethod)
		if method != model.DiscoverySitemap && method != model.DiscoveryCrawling {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "unknown discovery method: " + req.DiscoveryMethod,
			})
		}
		site.DiscoveryMethod = method
	}
	if req.Discovery != nil {
		site.Discovery = *req.Discovery
	}
	if req.Extraction != nil {
		site.Extraction = *req.Extraction
	}

	if err := st.UpdateSiteSettings(c.Context(), &site); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SITE_UPDATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(SiteResponse{
		Success: true,
		Site:    &site,
	})
}

// archiveSiteHandler archives a site; its jobs are rejected until it
// is unarchived, and retention eventually deletes it.
func archiveSiteHandler(c *fiber.Ctx) error {
	return setSiteStatus(c, model.SiteArchived)
}

// unarchiveSiteHandler restores an archived site to active.
func unarchiveSiteHandler(c *fiber.Ctx) error {
	return setSiteStatus(c, model.SiteActive)
}

func setSiteStatus(c *fiber.Ctx, status model.SiteStatus) error {
	st := storeFromCtx(c)

	site, ok := siteFromParam(c)
	if !ok {
		return nil
	}

	if err := st.UpdateSiteStatus(c.Context(), site.ID, status); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SITE_UPDATE_FAILED",
			Error:   err.Error(),
		})
	}
	site.Status = status

	return c.Status(fiber.StatusOK).JSON(SiteResponse{
		Success: true,
		Site:    &site,
	})
}

// deleteSiteHandler removes a site and everything hanging off it.
func deleteSiteHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	site, ok := siteFromParam(c)
	if !ok {
		return nil
	}

	if err := st.DeleteSite(c.Context(), site.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SITE_DELETE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// listScansHandler returns a site's scan history, newest first.
func listScansHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	site, ok := siteFromParam(c)
	if !ok {
		return nil
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	scans, err := st.ListScans(c.Context(), site.ID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if scans == nil {
		scans = []model.Scan{}
	}

	return c.Status(fiber.StatusOK).JSON(ListScansResponse{
		Success: true,
		Scans:   scans,
	})
}

// siteFromParam parses the :id param and loads its site, writing the
// error response itself when either step fails.
func siteFromParam(c *fiber.Ctx) (model.Site, bool) {
	st := storeFromCtx(c)

	siteID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid site id",
		})
		return model.Site{}, false
	}

	site, err := st.GetSite(c.Context(), siteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "SITE_NOT_FOUND",
				Error:   "site not found",
			})
			return model.Site{}, false
		}
		_ = c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
		return model.Site{}, false
	}
	return site, true
}

func validRootURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
