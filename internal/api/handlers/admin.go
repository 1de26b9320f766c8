package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/services"
)

type AdminHandler struct {
	Polls       *services.PollAdminService
	Leaderboard *services.LeaderboardService
}

func NewAdminHandler(polls *services.PollAdminService, leaderboard *services.LeaderboardService) *AdminHandler {
	return &AdminHandler{Polls: polls, Leaderboard: leaderboard}
}

// ActivatePoll opens an upcoming poll for voting
// POST /api/v1/admin/polls/:id/activate
func (h *AdminHandler) ActivatePoll(c *fiber.Ctx) error {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return badParam(c, "id")
	}
	poll, err := h.Polls.Activate(c.Context(), pollID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": poll})
}

// ReopenPoll puts a closed or resolved poll back into voting
// POST /api/v1/admin/polls/:id/reopen
func (h *AdminHandler) ReopenPoll(c *fiber.Ctx) error {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return badParam(c, "id")
	}
	poll, err := h.Polls.Reopen(c.Context(), pollID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": poll})
}

type finalizeElectionRequest struct {
	ElectionID string `json:"election_id"`
}

// FinalizeElection binds a created election to a pending anonymous poll
// POST /api/v1/polls/:id/election
func (h *AdminHandler) FinalizeElection(c *fiber.Ctx) error {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return badParam(c, "id")
	}
	var req finalizeElectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	res, err := h.Polls.FinalizeElection(c.Context(), pollID, req.ElectionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": res})
}

// LedgerAudit compares a user's balance with their points history
// GET /api/v1/admin/users/:id/ledger
func (h *AdminHandler) LedgerAudit(c *fiber.Ctx) error {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return badParam(c, "id")
	}
	audit, err := h.Leaderboard.AuditLedger(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(audit)
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

func badParam(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": name + " must be a UUID"})
}
