package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Field length limits matching database schema constraints.
const (
	MaxProductIDLen = 64 // products.id VARCHAR(64)
	MaxUserIDLen    = 64
	MaxClientIDLen  = 64
	MaxRankingLimit = 500
)

var (
	// productIDRe matches catalog slugs: alphanumeric, dash, underscore.
	productIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	// userIDRe matches ids issued by the auth service.
	userIDRe = regexp.MustCompile(`^[A-Za-z0-9_.:@-]+$`)
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateStruct runs the struct's validate tags and returns a message naming
// the first failing field, or "".
func ValidateStruct(v any) string {
	err := structValidator().Struct(v)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", lowerFirst(fe.Field()))
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", lowerFirst(fe.Field()), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", lowerFirst(fe.Field()))
		}
	}
	return "invalid request"
}

// ValidateProductID checks that a product ID is well-formed and within DB limits.
func ValidateProductID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "productId is required"
	}
	if len(id) > MaxProductIDLen {
		return "", "productId must be at most 64 characters"
	}
	if !productIDRe.MatchString(id) {
		return "", "productId contains invalid characters"
	}
	return id, ""
}

// ValidateUserID checks an authenticated user id. Empty is allowed.
func ValidateUserID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ""
	}
	if len(id) > MaxUserIDLen {
		return "", "voterId must be at most 64 characters"
	}
	if !userIDRe.MatchString(id) {
		return "", "voterId contains invalid characters"
	}
	return id, ""
}

// NormalizeClientID trims an anonymous client id. Malformed ids, over-long
// ones included, are passed on: the vote service treats them as rate limited.
// Anything longer than MaxClientIDLen is cut there, which keeps it malformed.
func NormalizeClientID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > MaxClientIDLen {
		id = id[:MaxClientIDLen+1]
	}
	return id
}

// ParseLimit parses a ?limit= value. Empty means 0 (server default).
func ParseLimit(raw string) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ""
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxRankingLimit {
		return 0, "limit must be between 1 and 500"
	}
	return n, ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
