package http

import (
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/http/middleware"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/users"
)

type createSiteRequest struct {
	Code       string         `json:"code" validate:"required"`
	Cname      string         `json:"cname"`
	LinkDomain string         `json:"link_domain"`
	Settings   sites.Settings `json:"settings"`
}

type updateSettingsRequest struct {
	Collect   []string `json:"collect" validate:"dive,oneof=location language"`
	IgnoreIPs []string `json:"ignore_ips"`
}

// SitesIndexAction lists the sites the token holder may read.
func SitesIndexAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	db := ctx.DB()

	if user.ReadsAllSites() {
		list, err := sites.ListActive(db)
		if err != nil {
			ctx.Logger.Error("Failed to list sites", slog.Any("error", err))
			return jsonError(ctx, fiber.StatusInternalServerError, "Failed to fetch sites")
		}
		return ctx.JSON(fiber.Map{"sites": list})
	}

	if user.SiteID == nil {
		return ctx.JSON(fiber.Map{"sites": []sites.Site{}})
	}
	site, err := sites.GetByID(db, *user.SiteID)
	if err != nil {
		return siteError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"sites": []sites.Site{*site}})
}

// SiteShowAction returns one site.
func SiteShowAction(ctx *cartridge.Context) error {
	id, ok := idParam(ctx, "id")
	if !ok {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid site id")
	}
	if !middleware.CurrentUser(ctx.Ctx).CanReadSite(id) {
		return jsonError(ctx, fiber.StatusForbidden, "Access denied")
	}

	site, err := sites.GetByID(ctx.DB(), id)
	if err != nil {
		return siteError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"site": site})
}

// SiteCreateAction registers a new site.
func SiteCreateAction(ctx *cartridge.Context) error {
	var req createSiteRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}
	if msg := validateSiteSettings(req.Settings); msg != "" {
		return jsonError(ctx, fiber.StatusBadRequest, msg)
	}

	site := &sites.Site{
		Code:       req.Code,
		Cname:      req.Cname,
		LinkDomain: req.LinkDomain,
		Settings:   req.Settings,
	}
	if err := sites.Create(ctx.DB(), ctx.Logger, site); err != nil {
		if errors.Is(err, sites.ErrInvalidCode) {
			return jsonError(ctx, fiber.StatusBadRequest, err.Error())
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return jsonError(ctx, fiber.StatusConflict, "Site code already taken")
		}
		ctx.Logger.Error("Failed to create site", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to create site")
	}

	ctx.Logger.Info("Site created", slog.String("code", site.Code))
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"site": site})
}

// SiteSettingsUpdateAction replaces a site's collection settings.
func SiteSettingsUpdateAction(ctx *cartridge.Context) error {
	id, ok := idParam(ctx, "id")
	if !ok {
		return jsonError(ctx, fiber.StatusBadRequest, "Invalid site id")
	}
	if !middleware.CurrentUser(ctx.Ctx).CanWriteSite(id) {
		return jsonError(ctx, fiber.StatusForbidden, "Access denied")
	}

	var req updateSettingsRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}
	settings := sites.Settings{Collect: req.Collect, IgnoreIPs: req.IgnoreIPs}
	if msg := validateSiteSettings(settings); msg != "" {
		return jsonError(ctx, fiber.StatusBadRequest, msg)
	}

	db := ctx.DB()
	if err := sites.UpdateSettings(db, ctx.Logger, id, settings); err != nil {
		return siteError(ctx, err)
	}
	site, err := sites.GetByID(db, id)
	if err != nil {
		return siteError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"site": site})
}

func validateSiteSettings(s sites.Settings) string {
	for _, dim := range s.Collect {
		if dim != sites.CollectLocation && dim != sites.CollectLanguage {
			return "Unknown collect option: " + dim
		}
	}
	for _, ip := range s.IgnoreIPs {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			return "Invalid IP address format: " + ip
		}
	}
	return ""
}

func siteError(ctx *cartridge.Context, err error) error {
	var notFound *sites.SiteNotFoundError
	if errors.As(err, &notFound) {
		return jsonError(ctx, fiber.StatusNotFound, "Site not found")
	}
	ctx.Logger.Error("Site lookup failed", slog.Any("error", err))
	return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
}

// siteForUser resolves the site a request targets: the requested id when
// given, else the user's own site. It answers the request itself on failure.
func siteForUser(ctx *cartridge.Context, user *users.User, requested uint) (*sites.Site, error) {
	siteID := requested
	if siteID == 0 && user.SiteID != nil {
		siteID = *user.SiteID
	}
	if siteID == 0 {
		return nil, jsonError(ctx, fiber.StatusBadRequest, "site is required")
	}
	if !user.CanReadSite(siteID) {
		return nil, jsonError(ctx, fiber.StatusForbidden, "Access denied")
	}
	site, err := sites.GetByID(ctx.DB(), siteID)
	if err != nil {
		return nil, siteError(ctx, err)
	}
	return site, nil
}
