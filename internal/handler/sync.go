package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/model"
	"github.com/tierd/tierd-go/internal/service"
)

type SyncHandler struct {
	svc *service.SyncService
}

func NewSyncHandler(svc *service.SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// Changes handles GET /vote/sync?cursor=&limit=
// Omitting cursor returns every product.
func (h *SyncHandler) Changes(c fiber.Ctx) error {
	cursor, err := model.ParseSyncCursor(c.Query("cursor"))
	if err != nil {
		return invalidRequest(c, "cursor is malformed")
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxSyncLimit {
			return invalidRequest(c, "limit must be between 1 and 1000")
		}
		limit = n
	}

	resp, err := h.svc.Changes(c.Context(), cursor, limit)
	if err != nil {
		return writeServiceError(c, err, "vote.sync")
	}
	return c.JSON(resp)
}
