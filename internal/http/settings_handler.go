package http

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/settings"
)

type upsertSettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SettingsIndexAction lists every stored setting. The GeoLite license key is
// masked.
func SettingsIndexAction(ctx *cartridge.Context) error {
	all, err := settings.GetAllSettings(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to fetch settings", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to fetch settings")
	}
	for i := range all {
		all[i] = all[i].Masked()
	}
	return ctx.JSON(fiber.Map{"settings": all})
}

// SettingsUpsertAction creates or replaces one setting.
func SettingsUpsertAction(ctx *cartridge.Context) error {
	var req upsertSettingRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}

	value := strings.TrimSpace(req.Value)
	if req.Key == settings.KeyExcludedIPs {
		if err := settings.ValidateExcludedIPs(value); err != nil {
			return jsonError(ctx, fiber.StatusBadRequest, err.Error())
		}
	}

	if err := settings.UpdateSetting(ctx.DB(), ctx.Logger, req.Key, value); err != nil {
		if errors.Is(err, settings.ErrKeyRequired) {
			return jsonError(ctx, fiber.StatusBadRequest, "Key is required")
		}
		ctx.Logger.Error("Failed to update setting", slog.String("key", req.Key), slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to update setting")
	}

	ctx.Logger.Info("Setting updated", slog.String("key", req.Key))
	return ctx.JSON(fiber.Map{"success": true, "key": strings.TrimSpace(req.Key)})
}
