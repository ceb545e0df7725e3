package http

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/http/middleware"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/stats"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// StatsIndexAction returns the dashboard payload for one site.
func StatsIndexAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	cfg := config.GetConfig()

	siteID, err := statsSiteID(ctx)
	if err != nil {
		return siteError(ctx, err)
	}
	site, err := siteForUser(ctx, user, siteID)
	if site == nil {
		return err
	}

	start, err := parseDateParam(ctx, "startDate", "start")
	if err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid start date")
	}
	end, err := parseDateParam(ctx, "endDate", "end")
	if err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid end date")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return jsonError(ctx, fiber.StatusBadRequest, "End date must not be before start date")
	}

	params := stats.Params{
		SiteID:         site.ID,
		Start:          start,
		End:            end,
		Path:           ctx.Query("path"),
		Campaign:       ctx.Query("campaign"),
		Limit:          ctx.QueryInt("limit", 0),
		Realtime:       ctx.Query("realtime") == "true",
		UseAggregation: ctx.Query("useAggregation") != "false",
	}
	params.Normalize(cfg.RealtimeSampleSize, cfg.AggregatedSampleSize)

	result, err := stats.Query(ctx.UserContext(), ctx.DB(), ctx.Logger, params)
	if err != nil {
		ctx.Logger.Error("Failed to query stats",
			slog.Uint64("site_id", uint64(site.ID)),
			slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to fetch analytics data")
	}
	return ctx.JSON(result)
}

// statsSiteID reads the site parameter, which may be an id or a site code.
func statsSiteID(ctx *cartridge.Context) (uint, error) {
	raw := ctx.Query("site")
	if raw == "" {
		return 0, nil
	}
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return uint(id), nil
	}
	site, err := sites.GetActiveByCode(ctx.DB(), raw)
	if err != nil {
		return 0, err
	}
	return site.ID, nil
}

func parseDateParam(ctx *cartridge.Context, names ...string) (time.Time, error) {
	for _, name := range names {
		raw := ctx.Query(name)
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.New("invalid date: " + raw)
	}
	return time.Time{}, nil
}
