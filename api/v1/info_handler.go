package v1

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/config"
)

// InfoResponse describes the running instance and what it sees of the
// caller.
type InfoResponse struct {
	AppName     string         `json:"app_name"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
	ClientIP    string         `json:"client_ip"`
	Country     string         `json:"country"`
	Region      string         `json:"region"`
	CountryName string         `json:"country_name"`
	RegionName  string         `json:"region_name"`
	Body        map[string]any `json:"body,omitempty"`
}

// InfoAction reports the instance build and the caller's address and edge
// location. A POST echoes its JSON body back.
func InfoAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	loc := proxyLocation(ctx.Ctx)

	info := InfoResponse{
		AppName:     cfg.AppName,
		Version:     config.Version,
		Environment: cfg.Environment,
		ClientIP:    forwardedAddr(ctx.Ctx),
		Country:     loc.Country,
		Region:      loc.Region,
		CountryName: loc.CountryName,
		RegionName:  loc.RegionName,
	}

	if ctx.Method() == fiber.MethodPost && len(ctx.Body()) > 0 {
		if err := json.Unmarshal(ctx.Body(), &info.Body); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
	}

	return ctx.JSON(info)
}
