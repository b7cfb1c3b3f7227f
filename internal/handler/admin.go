package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/model"
	"github.com/tierd/tierd-go/internal/service"
)

type AdminHandler struct {
	agg *service.AggregateService
}

func NewAdminHandler(agg *service.AggregateService) *AdminHandler {
	return &AdminHandler{agg: agg}
}

// Reconcile handles POST /admin/reconcile. An empty body or productId sweeps
// every product.
func (h *AdminHandler) Reconcile(c fiber.Ctx) error {
	var req model.ReconcileRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return invalidRequest(c, "invalid request body")
		}
	}

	if req.ProductID == "" {
		report, err := h.agg.ReconcileAll(c.Context())
		if err != nil {
			return writeServiceError(c, err, "admin.reconcile_all")
		}
		return c.JSON(report)
	}

	productID, msg := middleware.ValidateProductID(req.ProductID)
	if msg != "" {
		return invalidRequest(c, msg)
	}
	res, err := h.agg.Reconcile(c.Context(), productID)
	if err != nil {
		return writeServiceError(c, err, "admin.reconcile")
	}
	corrected := 0
	if res.Corrected {
		corrected = 1
	}
	return c.JSON(model.ReconcileReport{
		Checked:   1,
		Corrected: corrected,
		Details:   []model.ReconcileResult{res},
	})
}
