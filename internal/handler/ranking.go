package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/service"
)

type RankingHandler struct {
	svc *service.RankingService
}

func NewRankingHandler(svc *service.RankingService) *RankingHandler {
	return &RankingHandler{svc: svc}
}

// List handles GET /rankings?limit=
func (h *RankingHandler) List(c fiber.Ctx) error {
	limit, msg := middleware.ParseLimit(c.Query("limit"))
	if msg != "" {
		return invalidRequest(c, msg)
	}
	resp, err := h.svc.Rankings(c.Context(), limit)
	if err != nil {
		return writeServiceError(c, err, "rankings.list")
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=30")
	return c.JSON(resp)
}
