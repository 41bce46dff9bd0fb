package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"crm-backend/internal/engine"
	"crm-backend/internal/metadata"
)

const userLocalKey = "user"

// Middleware authenticates requests with a Bearer token and stores the
// resolved user in fiber locals.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return unauthorized(c, "missing bearer token")
		}

		user, err := ParseAccessToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(userLocalKey, user)
		return c.Next()
	}
}

// RequireAdmin rejects requests from non-admin users. Must run after
// Middleware.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return unauthorized(c, "authentication required")
		}
		if !user.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(engine.ErrorResponse{
				Error: engine.ForbiddenError("admin role required"),
			})
		}
		return c.Next()
	}
}

// GetUser returns the authenticated user, or nil outside the auth chain.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals(userLocalKey).(*metadata.UserContext)
	return user
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(engine.ErrorResponse{
		Error: engine.UnauthorizedError(msg),
	})
}
