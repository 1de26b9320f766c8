/**
 * @description
 * Vote submission endpoint.
 *
 * @dependencies
 * - backend/internal/services
 * - github.com/gofiber/fiber/v2
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/swarmbet/backend/internal/api/middleware"
	"github.com/swarmbet/backend/internal/services"
)

type VoteHandler struct {
	Service *services.VoteService
}

func NewVoteHandler(service *services.VoteService) *VoteHandler {
	return &VoteHandler{Service: service}
}

type submitVoteRequest struct {
	PollID        string `json:"poll_id"`
	OptionID      string `json:"option_id"`
	Confidence    string `json:"confidence"`
	VocdoniVoteID string `json:"vocdoni_vote_id"`
}

// SubmitVote records the caller's vote on a poll
// POST /api/v1/votes
func (h *VoteHandler) SubmitVote(c *fiber.Ctx) error {
	authUID, err := middleware.GetAuthUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req submitVoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	res, err := h.Service.SubmitVote(c.Context(), services.SubmitVoteInput{
		AuthUID:    authUID,
		PollID:     req.PollID,
		OptionID:   req.OptionID,
		Confidence: req.Confidence,
		ReceiptID:  req.VocdoniVoteID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": res})
}
