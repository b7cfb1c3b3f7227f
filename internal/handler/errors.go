package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/model"
)

// writeServiceError maps a service error onto the API error envelope.
func writeServiceError(c fiber.Ctx, err error, op string) error {
	var rle *model.RateLimitError
	switch {
	case errors.As(err, &rle):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"code":     "rate_limited",
				"message":  "anonymous vote limit reached",
				"resetsAt": rle.ResetAt.UTC().Format(time.RFC3339),
			},
		})
	case errors.Is(err, model.ErrInvalidDirection):
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "invalid_direction", "direction must be up or down")
	case errors.Is(err, model.ErrInvalidRequest):
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, model.ErrProductNotFound):
		return middleware.ErrorResponse(c, fiber.StatusNotFound, "not_found", "product not found")
	}
	logger.Logger.Error().Err(err).Str("op", op).Msg("request failed")
	return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "internal_error", "internal error")
}

func invalidRequest(c fiber.Ctx, msg string) error {
	return middleware.ErrorResponse(c, fiber.StatusBadRequest, "invalid_request", msg)
}
