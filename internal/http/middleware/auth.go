package middleware

import (
	"errors"
	"slices"

	"github.com/gofiber/fiber/v2"

	"pocketwebanalytics/internal/auth"
	"pocketwebanalytics/internal/users"
)

const claimsKey = "auth_claims"

// RequireToken rejects requests without a valid access token and stores the
// token's claims for the handlers.
func RequireToken(tokens *auth.JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or malformed access token",
			})
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			message := "Invalid access token"
			if errors.Is(err, auth.ErrTokenExpired) {
				message = "Access token expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": message})
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// RequireRole allows only the listed roles. It must run after RequireToken.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil || !slices.Contains(roles, claims.Role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}

// Claims returns the claims stored by RequireToken, or nil.
func Claims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(claimsKey).(*auth.Claims)
	return claims
}

// CurrentUser returns the token holder, or nil.
func CurrentUser(c *fiber.Ctx) *users.User {
	claims := Claims(c)
	if claims == nil {
		return nil
	}
	return claims.User()
}
