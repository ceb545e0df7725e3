package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/http/middleware"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/users"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"omitempty,oneof=admin support editor viewer"`
	SiteID          *uint  `json:"site_id"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *users.User `json:"user"`
}

// LoginAction exchanges credentials for an access token.
func LoginAction(ctx *cartridge.Context) error {
	var req loginRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}

	user, err := users.Authenticate(ctx.DB(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			ctx.Logger.Info("Failed login attempt", slog.String("email", req.Email))
			return jsonError(ctx, fiber.StatusUnauthorized, "Invalid credentials")
		}
		ctx.Logger.Error("Failed to authenticate user", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
	}

	tokens, err := TokenManager()
	if err != nil {
		ctx.Logger.Error("Token manager unavailable", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
	}
	token, expiresAt, err := tokens.GenerateToken(user)
	if err != nil {
		ctx.Logger.Error("Failed to issue token", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
	}

	ctx.Logger.Info("User logged in", slog.Uint64("user_id", uint64(user.ID)))
	return ctx.JSON(tokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// RegisterAction creates a user. Only admins may register users; non-admin
// roles must be scoped to an existing site.
func RegisterAction(ctx *cartridge.Context) error {
	var req registerRequest
	if err := parseBody(ctx, &req); err != nil {
		return jsonError(ctx, fiber.StatusBadRequest, err.Error())
	}
	if req.Role == "" {
		req.Role = users.RoleViewer
	}

	db := ctx.DB()
	if req.Role != users.RoleAdmin && req.Role != users.RoleSupport {
		if req.SiteID == nil {
			return jsonError(ctx, fiber.StatusBadRequest, "site_id is required for role "+req.Role)
		}
		if _, err := sites.GetByID(db, *req.SiteID); err != nil {
			var notFound *sites.SiteNotFoundError
			if errors.As(err, &notFound) {
				return jsonError(ctx, fiber.StatusBadRequest, "Site not found")
			}
			return jsonError(ctx, fiber.StatusInternalServerError, "Internal server error")
		}
	}

	user, err := users.Create(db, ctx.Logger, req.Email, req.Password, req.Role, req.SiteID)
	if err != nil {
		if errors.Is(err, users.ErrUserExists) {
			return jsonError(ctx, fiber.StatusConflict, "User already exists")
		}
		ctx.Logger.Error("Failed to create user", slog.Any("error", err))
		return jsonError(ctx, fiber.StatusInternalServerError, "Failed to create user")
	}

	ctx.Logger.Info("User registered",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("role", user.Role),
		slog.Uint64("by", uint64(middleware.Claims(ctx.Ctx).UserID)))
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// VerifyAction reports the token holder. The token itself was checked by
// the middleware; the user must still exist.
func VerifyAction(ctx *cartridge.Context) error {
	claims := middleware.Claims(ctx.Ctx)
	user, err := users.FindByID(ctx.DB(), claims.UserID)
	if err != nil {
		return jsonError(ctx, fiber.StatusUnauthorized, "User no longer exists")
	}
	return ctx.JSON(fiber.Map{
		"valid":      true,
		"user":       user,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// LogoutAction acknowledges a logout. Tokens are stateless; clients discard
// theirs.
func LogoutAction(ctx *cartridge.Context) error {
	return ctx.JSON(fiber.Map{"success": true})
}
