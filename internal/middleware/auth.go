package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/security"
)

const (
	localUserID = "tierd.userID"
	localRole   = "tierd.role"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (security.TokenClaims, error)
}

// OptionalAuth reads an Authorization bearer token when present. A valid token
// stores the user id and role for later handlers; a malformed or expired one
// is rejected with 401. Requests without a token pass through as anonymous.
// A nil verifier disables token handling entirely.
func OptionalAuth(v TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		if v == nil {
			return c.Next()
		}
		raw := c.Get(fiber.HeaderAuthorization)
		if raw == "" {
			return c.Next()
		}
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return ErrorResponse(c, fiber.StatusUnauthorized, "unauthorized", "authorization must be a bearer token")
		}
		claims, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, security.ErrTokenExpired) {
				msg = "token expired"
			}
			return ErrorResponse(c, fiber.StatusUnauthorized, "unauthorized", msg)
		}
		c.Locals(localUserID, claims.UserID)
		c.Locals(localRole, claims.Role)
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c fiber.Ctx) string {
	if v, ok := c.Locals(localUserID).(string); ok {
		return v
	}
	return ""
}

// RequireAdmin admits callers holding the admin role or presenting the static
// X-Admin-Token. With neither configured, admin routes are closed.
func RequireAdmin(adminToken string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if role, _ := c.Locals(localRole).(string); role == security.RoleAdmin {
			return c.Next()
		}
		if adminToken != "" {
			got := c.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) == 1 {
				return c.Next()
			}
		}
		return ErrorResponse(c, fiber.StatusForbidden, "forbidden", "admin access required")
	}
}
