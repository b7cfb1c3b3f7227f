package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/model"
	"github.com/tierd/tierd-go/internal/service"
)

type VoteHandler struct {
	svc *service.VoteService
	// trustBodyVoter accepts voterId from the request when no token verifier
	// is configured. With JWT enabled only the token's uid counts.
	trustBodyVoter bool
}

func NewVoteHandler(svc *service.VoteService, trustBodyVoter bool) *VoteHandler {
	if trustBodyVoter {
		log := logger.Component("vote")
		log.Warn().Msg("JWT_SECRET unset, trusting request voterId; such votes skip the anonymous limit")
	}
	return &VoteHandler{svc: svc, trustBodyVoter: trustBodyVoter}
}

// voter resolves the caller's user id and client id for a request.
func (h *VoteHandler) voter(c fiber.Ctx, bodyVoter, bodyClient string) (string, string, string) {
	userID := middleware.UserID(c)
	if userID == "" && h.trustBodyVoter {
		id, msg := middleware.ValidateUserID(bodyVoter)
		if msg != "" {
			return "", "", msg
		}
		userID = id
	}
	if bodyClient == "" {
		bodyClient = c.Get("X-Client-ID")
	}
	return userID, middleware.NormalizeClientID(bodyClient), ""
}

// Cast handles POST /vote
func (h *VoteHandler) Cast(c fiber.Ctx) error {
	var req model.VoteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return invalidRequest(c, "invalid request body")
	}

	// Direction is checked first so a bad direction always reports
	// invalid_direction, even alongside other missing fields.
	dir, err := model.ParseDirection(req.Direction)
	if err != nil {
		return writeServiceError(c, err, "vote.cast")
	}
	if msg := middleware.ValidateStruct(req); msg != "" {
		return invalidRequest(c, msg)
	}
	productID, msg := middleware.ValidateProductID(req.ProductID)
	if msg != "" {
		return invalidRequest(c, msg)
	}
	userID, clientID, msg := h.voter(c, req.VoterID, req.ClientID)
	if msg != "" {
		return invalidRequest(c, msg)
	}

	resp, err := h.svc.Cast(c.Context(), service.CastRequest{
		ProductID: productID,
		Direction: dir,
		UserID:    userID,
		ClientID:  clientID,
	})
	if err != nil {
		return writeServiceError(c, err, "vote.cast")
	}
	return c.JSON(resp)
}

// Status handles GET /vote/status?productId=&voterId=|clientId=
func (h *VoteHandler) Status(c fiber.Ctx) error {
	productID, msg := middleware.ValidateProductID(c.Query("productId"))
	if msg != "" {
		return invalidRequest(c, msg)
	}
	userID, clientID, msg := h.voter(c, c.Query("voterId"), c.Query("clientId"))
	if msg != "" {
		return invalidRequest(c, msg)
	}
	if userID == "" && clientID == "" {
		return invalidRequest(c, "voterId or clientId is required")
	}

	resp, err := h.svc.Status(c.Context(), productID, userID, clientID)
	if err != nil {
		return writeServiceError(c, err, "vote.status")
	}
	return c.JSON(resp)
}

// Remaining handles GET /vote/remaining?clientId=
func (h *VoteHandler) Remaining(c fiber.Ctx) error {
	raw := c.Query("clientId")
	if raw == "" {
		raw = c.Get("X-Client-ID")
	}
	resp, err := h.svc.Remaining(c.Context(), middleware.NormalizeClientID(raw))
	if err != nil {
		return writeServiceError(c, err, "vote.remaining")
	}
	return c.JSON(resp)
}

// Counts handles GET /vote/counts?productId=
func (h *VoteHandler) Counts(c fiber.Ctx) error {
	productID, msg := middleware.ValidateProductID(c.Query("productId"))
	if msg != "" {
		return invalidRequest(c, msg)
	}
	resp, err := h.svc.Counts(c.Context(), productID)
	if err != nil {
		return writeServiceError(c, err, "vote.counts")
	}
	return c.JSON(resp)
}

// Identity handles POST /vote/identity, issuing a fresh anonymous client id.
func (h *VoteHandler) Identity(c fiber.Ctx) error {
	return c.Status(fiber.StatusCreated).JSON(model.IdentityResponse{ClientID: service.IssueClientID()})
}
