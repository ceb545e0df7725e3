package v1

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/web"
)

var snippetETag = generateETag(web.Snippet())

// SnippetAction serves the tracking script with a strong ETag.
func SnippetAction(ctx *cartridge.Context) error {
	if ctx.Get(fiber.HeaderIfNoneMatch) == snippetETag {
		ctx.Logger.Debug("ETag match, returning 304", slog.String("path", ctx.Path()))
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set(fiber.HeaderContentType, "application/javascript")
	ctx.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	ctx.Set(fiber.HeaderETag, snippetETag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(web.Snippet())
}
