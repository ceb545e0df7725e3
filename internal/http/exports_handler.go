package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/exports"
	"pocketwebanalytics/internal/http/middleware"
)

type createExportRequest struct {
	SiteID           uint   `json:"site_id"`
	Format           string `json:"format" validate:"omitempty,oneof=csv json"`
	DateFrom         string `json:"date_from"`
	DateTo           string `json:"date_to"`
	IncludeCampaigns bool   `json:"include_campaigns"`
}

// ExportCreateAction starts generating an export file.
func ExportCreateAction(ctx *cartridge.Context) error {
	var req createExportRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}

	site, err := siteForUser(ctx, middleware.CurrentUser(ctx.Ctx), req.SiteID)
	if site == nil {
		return err
	}

	from, err := parseExportDate(req.DateFrom)
	if err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid date_from")
	}
	to, err := parseExportDate(req.DateTo)
	if err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid date_to")
	}

	exp, err := newExporter(ctx).Start(exports.Request{
		SiteID:           site.ID,
		Format:           req.Format,
		DateFrom:         from,
		DateTo:           to,
		IncludeCampaigns: req.IncludeCampaigns,
	})
	if err != nil {
		if errors.Is(err, exports.ErrInvalidFormat) {
			return jsonError(ctx, fiber.StatusBadRequest, "Invalid format. Use csv or json.")
		}
		ctx.Logger.Error("Failed to start export", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Export failed")
	}

	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"export": exp})
}

// ExportsIndexAction lists a site's exports.
func ExportsIndexAction(ctx *cartridge.Context) error {
	site, err := siteForUser(ctx, middleware.CurrentUser(ctx.Ctx), uint(ctx.QueryInt("site_id", 0)))
	if site == nil {
		return err
	}

	list, err := exports.List(ctx.DB(), site.ID)
	if err != nil {
		ctx.Logger.Error("Failed to list exports", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to get export list")
	}
	return ctx.JSON(fiber.Map{"exports": list})
}

// ExportDownloadAction serves a completed export file.
func ExportDownloadAction(ctx *cartridge.Context) error {
	id, ok := idParam(ctx, "id")
	if !ok {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid export id")
	}

	exp, err := exports.Get(ctx.DB(), id)
	if errors.Is(err, exports.ErrNotFound) {
		return jsonError(ctx, fiber.StatusNotFound, "Export not found")
	}
	if err != nil {
		ctx.Logger.Error("Failed to load export", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
	}
	if !middleware.CurrentUser(ctx.Ctx).CanReadSite(exp.SiteID) {
		return jsonError(ctx, fiber.StatusForbidden, "Access denied")
	}
	if exp.Status != exports.StatusCompleted {
		return jsonError(ctx, fiber.StatusConflict, "Export is "+exp.Status)
	}

	ctx.Set(fiber.HeaderContentType, exp.ContentType())
	return ctx.Download(newExporter(ctx).FilePath(exp), exp.Filename)
}

func parseExportDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("invalid date: " + raw)
}
