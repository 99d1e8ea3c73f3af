package middleware

import (
	"strings"

	"treasure-hunt-system/auth"
	"treasure-hunt-system/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	LocalUserID    = "user_id"
	LocalUserEmail = "user_email"
	LocalUserRole  = "user_role"
)

// UserContextMiddleware verifies the bearer token and attaches the caller's
// identity to the request locals for handlers.
func UserContextMiddleware(tokens *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authorization header required",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			logging.Logger.Debug("[USER_CTX] token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired access token",
			})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalUserEmail, claims.Email)
		c.Locals(LocalUserRole, claims.Role)
		return c.Next()
	}
}

// RequireRole must run after UserContextMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := CurrentUserRole(c)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		logging.Logger.Warn("[USER_CTX] role denied",
			zap.String("user_id", CurrentUserID(c)),
			zap.String("role", role),
			zap.String("path", c.Path()))
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient permissions",
		})
	}
}

func CurrentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func CurrentUserRole(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalUserRole).(string)
	return role
}
