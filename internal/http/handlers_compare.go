package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"webmonitor/internal/compare"
	"webmonitor/internal/model"
)

// compareScansHandler diffs two completed scans synchronously. The
// owning site is derived from the base scan; comparing across sites is
// rejected.
func compareScansHandler(c *fiber.Ctx) error {
	st := storeFromCtx(c)

	baseID, err := uuid.Parse(c.Params("base"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid base scan id",
		})
	}
	otherID, err := uuid.Parse(c.Params("other"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid compare scan id",
		})
	}

	baseScan, err := st.GetScan(c.Context(), baseID)
	if err != nil {
		return scanLookupError(c, err)
	}
	otherScan, err := st.GetScan(c.Context(), otherID)
	if err != nil {
		return scanLookupError(c, err)
	}

	if baseScan.SiteID != otherScan.SiteID {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "CROSS_SITE_COMPARISON",
			Error:   "scans belong to different sites",
		})
	}
	if baseScan.Status != model.ScanCompleted || otherScan.Status != model.ScanCompleted {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "SCAN_NOT_COMPLETED",
			Error:   "both scans must be completed",
		})
	}

	baseSnaps, err := st.SnapshotsByScan(c.Context(), baseID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	otherSnaps, err := st.SnapshotsByScan(c.Context(), otherID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	result := compare.Runs(baseScan.SiteID, baseID, otherID, baseSnaps, otherSnaps)
	return c.Status(fiber.StatusOK).JSON(CompareResponse{
		Success: true,
		Data:    &result,
	})
}

func scanLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "SCAN_NOT_FOUND",
			Error:   "scan not found",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   err.Error(),
	})
}
