package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/sites"
)

type aggregationRequest struct {
	Mode string `json:"mode"`
	Site uint   `json:"site"`
}

// AggregationRunAction runs the rollup jobs and returns their report.
func AggregationRunAction(ctx *cartridge.Context) error {
	var req aggregationRequest
	if len(ctx.Body()) > 0 {
		if err := parseBody(ctx, &req); err != nil {
			return jsonError(ctx, fiber.StatusBadRequest, err.Error())
		}
	}

	mode, err := aggregation.ParseMode(req.Mode)
	if err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}

	report, err := aggregation.New(ctx.DB(), ctx.Logger, config.GetConfig()).
		Run(ctx.UserContext(), aggregation.Options{Mode: mode, SiteID: req.Site})
	if err != nil {
		var notFound *sites.SiteNotFoundError
		if errors.As(err, &notFound) {
			return jsonError(ctx, fiber.StatusNotFound, "Site not found")
		}
		ctx.Logger.Error("Aggregation failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Aggregation failed",
			"message": err.Error(),
		})
	}

	return ctx.JSON(fiber.Map{
		"success":           true,
		"mode":              report.Mode,
		"records_processed": report.RecordsProcessed(),
		"groups_attempted":  report.GroupsAttempted(),
		"groups_failed":     report.GroupsFailed(),
		"report":            report,
	})
}

// AggregationStatusAction returns the stored watermarks, optionally for one
// site.
func AggregationStatusAction(ctx *cartridge.Context) error {
	marks, err := aggregation.Watermarks(ctx.DB(), uint(ctx.QueryInt("site", 0)))
	if err != nil {
		ctx.Logger.Error("Failed to read watermarks", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to read aggregation status")
	}
	return ctx.JSON(fiber.Map{"watermarks": marks})
}
