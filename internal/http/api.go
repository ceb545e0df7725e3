// Package http holds the JSON API handlers.
package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/auth"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/exports"
	"pocketwebanalytics/internal/pkg/async"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	exportQueue     *async.Queue
	exportQueueOnce sync.Once
)

// TokenManager builds the access token manager from configuration.
func TokenManager() (*auth.JWTManager, error) {
	cfg := config.GetConfig()
	return auth.NewJWTManager(cfg.GetSessionSecret(), cfg.GetTokenTTL())
}

// ExportQueue returns the shared export worker queue, or nil when exports
// are generated inline.
func ExportQueue() *async.Queue {
	exportQueueOnce.Do(func() {
		cfg := config.GetConfig()
		if cfg.ExportWorkers > 0 {
			exportQueue = async.NewQueue(cfg.ExportWorkers, 64)
		}
	})
	return exportQueue
}

func newExporter(ctx *cartridge.Context) *exports.Exporter {
	return exports.NewExporter(ctx.DB(), ctx.Logger, config.GetConfig().ExportsDirectory(), ExportQueue())
}

func jsonError(ctx *cartridge.Context, status int, message string) error {
	return ctx.Status(status).JSON(fiber.Map{"error": message})
}

// parseBody decodes the JSON body into dst and validates it. The returned
// error is a message safe to show the client.
func parseBody(ctx *cartridge.Context, dst any) error {
	if err := ctx.BodyParser(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errors.New(validationMessage(verrs))
		}
		return err
	}
	return nil
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "eqfield":
			parts = append(parts, fmt.Sprintf("%s must match %s", field, strings.ToLower(fe.Param())))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

func idParam(ctx *cartridge.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
