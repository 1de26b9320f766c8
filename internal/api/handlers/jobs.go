/**
 * @description
 * Sweep triggers for the scheduler and operators.
 * Both endpoints sit behind the job secret middleware.
 *
 * @dependencies
 * - backend/internal/services
 * - github.com/gofiber/fiber/v2
 */

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/services"
)

type JobsHandler struct {
	Resolution *services.ResolutionService
	Outcomes   *services.OutcomeService
}

func NewJobsHandler(resolution *services.ResolutionService, outcomes *services.OutcomeService) *JobsHandler {
	return &JobsHandler{Resolution: resolution, Outcomes: outcomes}
}

type closePollsRequest struct {
	ForcePollID string `json:"force_poll_id"`
}

// ClosePolls runs the closing sweep, or closes one poll early with force_poll_id.
// POST /api/v1/jobs/close-polls
func (h *JobsHandler) ClosePolls(c *fiber.Ctx) error {
	var req closePollsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	var force *uuid.UUID
	if id := strings.TrimSpace(req.ForcePollID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "force_poll_id must be a UUID"})
		}
		force = &parsed
	}

	res, err := h.Resolution.CloseDuePolls(c.Context(), force)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "closed": res.Closed, "results": res.Results})
}

// ResolvePolymarket runs the oracle reconciliation sweep
// POST /api/v1/jobs/resolve-polymarket
func (h *JobsHandler) ResolvePolymarket(c *fiber.Ctx) error {
	res, err := h.Outcomes.ReconcileOutcomes(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "resolved": res.Resolved, "results": res.Results})
}
