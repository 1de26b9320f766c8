/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 */

package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/swarmbet/backend/internal/api/handlers"
	"github.com/swarmbet/backend/internal/api/middleware"
	"github.com/swarmbet/backend/internal/services"
)

// Services bundles everything the routes dispatch to.
type Services struct {
	Votes       *services.VoteService
	Resolution  *services.ResolutionService
	Outcomes    *services.OutcomeService
	Admin       *services.PollAdminService
	Leaderboard *services.LeaderboardService
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc Services, auth *middleware.Authenticator, jobSecret string) {
	voteHandler := handlers.NewVoteHandler(svc.Votes)
	jobsHandler := handlers.NewJobsHandler(svc.Resolution, svc.Outcomes)
	adminHandler := handlers.NewAdminHandler(svc.Admin, svc.Leaderboard)
	leaderboardHandler := handlers.NewLeaderboardHandler(svc.Leaderboard)

	v1 := app.Group("/api").Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "swarmbet-backend"})
	})
	v1.Get("/leaderboard", leaderboardHandler.GetLeaderboard)
	v1.Get("/leaderboard/:id", leaderboardHandler.GetRank)

	// User Routes (Protected)
	protected := auth.Protected()
	v1.Post("/votes", protected, voteHandler.SubmitVote)
	v1.Post("/polls/:id/election", protected, adminHandler.FinalizeElection)

	// Scheduler and operator routes
	jobs := v1.Group("/jobs", middleware.JobSecret(jobSecret))
	jobs.Post("/close-polls", jobsHandler.ClosePolls)
	jobs.Post("/resolve-polymarket", jobsHandler.ResolvePolymarket)

	admin := v1.Group("/admin", middleware.JobSecret(jobSecret))
	admin.Post("/polls/:id/activate", adminHandler.ActivatePoll)
	admin.Post("/polls/:id/reopen", adminHandler.ReopenPoll)
	admin.Get("/users/:id/ledger", adminHandler.LedgerAudit)
}
