/**
 * @description
 * Main entry point for the SwarmBet API.
 * Initializes the Fiber web server, loads configuration, and sets up routes.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - backend/internal/config: Config loader
 * - backend/internal/db: Store and Redis connections
 *
 * @notes
 * - Sets up basic middleware (CORS, Logger, Recover).
 */

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/swarmbet/backend/internal/api"
	"github.com/swarmbet/backend/internal/api/middleware"
	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/db"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/services"
	"github.com/swarmbet/backend/internal/vocdoni"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Server.Env)
	defer logger.Sync()

	// 2. Initialize Store and Redis
	store, err := db.OpenStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store: %v", err)
	}
	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// 3. Services
	vocdoniClient := vocdoni.NewClient(cfg)
	locker := services.NewLocker(redisClient)
	leaderboard := services.NewLeaderboardService(store, redisClient)
	svc := api.Services{
		Votes:       services.NewVoteService(store, redisClient, vocdoniClient, leaderboard, cfg.Engine),
		Resolution:  services.NewResolutionService(store, vocdoniClient, locker, cfg.Engine),
		Outcomes:    services.NewOutcomeService(store, gamma.NewClient(cfg), locker, cfg.Engine),
		Admin:       services.NewPollAdminService(store, cfg.Engine),
		Leaderboard: leaderboard,
	}

	auth, err := middleware.NewAuthenticator(cfg)
	if err != nil {
		// Start anyway so the job and leaderboard routes stay up; user routes answer 503.
		logger.Error("Failed to init auth middleware: %v", err)
	}

	// 4. Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "SwarmBet API",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  60 * time.Second,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + middleware.JobSecretHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, svc, auth, cfg.Services.SyncJobSecret)

	// 5. Start Server
	go func() {
		logger.Info("🚀 Starting SwarmBet API on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	logger.Info("API exited.")
}
