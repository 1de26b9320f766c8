/**
 * @description
 * Leaderboard endpoints.
 *
 * @dependencies
 * - backend/internal/services
 * - github.com/gofiber/fiber/v2
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/swarmbet/backend/internal/services"
)

type LeaderboardHandler struct {
	Service *services.LeaderboardService
}

func NewLeaderboardHandler(service *services.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{Service: service}
}

// GetLeaderboard returns one page of users ranked by swarm points
// GET /api/v1/leaderboard?limit=&offset=
func (h *LeaderboardHandler) GetLeaderboard(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.Service.Top(c.Context(), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": entries, "limit": limit, "offset": offset})
}

// GetRank returns a single user's position
// GET /api/v1/leaderboard/:id
func (h *LeaderboardHandler) GetRank(c *fiber.Ctx) error {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return badParam(c, "id")
	}
	rank, err := h.Service.Rank(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rank)
}
