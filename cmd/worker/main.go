/**
 * @description
 * Worker Service Entry Point.
 * Runs the periodic sweeps on cron schedules:
 * 1. Closing due polls and computing consensus.
 * 2. Reconciling resolved polls against Polymarket outcomes.
 * 3. Rebuilding the leaderboard cache.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/cron
 * - backend/internal/db
 * - backend/internal/services
 */

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmbet/backend/internal/config"
	cronrunner "github.com/swarmbet/backend/internal/cron"
	"github.com/swarmbet/backend/internal/db"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/services"
	"github.com/swarmbet/backend/internal/vocdoni"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Server.Env)
	defer logger.Sync()
	logger.Info("🔥 Starting SwarmBet Worker...")

	store, err := db.OpenStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store: %v", err)
	}
	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}
	defer redisClient.Close()

	locker := services.NewLocker(redisClient)
	resolution := services.NewResolutionService(store, vocdoni.NewClient(cfg), locker, cfg.Engine)
	outcomes := services.NewOutcomeService(store, gamma.NewClient(cfg), locker, cfg.Engine)
	leaderboard := services.NewLeaderboardService(store, redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := cronrunner.New(ctx)
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"close-polls", cfg.Engine.CloseCron, func(ctx context.Context) { closePolls(ctx, resolution) }},
		{"resolve-polymarket", cfg.Engine.ReconcileCron, func(ctx context.Context) { reconcile(ctx, outcomes) }},
		{"leaderboard-rebuild", cfg.Engine.LeaderboardCron, func(ctx context.Context) {
			if err := leaderboard.Rebuild(ctx); err != nil {
				logger.Error("Leaderboard rebuild failed: %v", err)
			}
		}},
	}
	for _, job := range jobs {
		if _, err := runner.Add(job.name, job.spec, job.run); err != nil {
			logger.Fatal("Failed to schedule job: %v", err)
		}
	}

	// Warm the leaderboard so the API serves from Redis right away.
	if err := leaderboard.Rebuild(ctx); err != nil {
		logger.Warn("Initial leaderboard rebuild failed: %v", err)
	}
	runner.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	runner.Stop()
	logger.Info("Worker exited.")
}

func closePolls(ctx context.Context, svc *services.ResolutionService) {
	res, err := svc.CloseDuePolls(ctx, nil)
	if errors.Is(err, services.ErrConflict) {
		logger.Info("Closing sweep already running elsewhere, skipping")
		return
	}
	if err != nil {
		logger.Error("Closing sweep failed: %v", err)
		return
	}
	if res.Closed > 0 {
		logger.Info("Closing sweep processed %d polls", res.Closed)
	}
}

func reconcile(ctx context.Context, svc *services.OutcomeService) {
	res, err := svc.ReconcileOutcomes(ctx)
	if errors.Is(err, services.ErrConflict) {
		logger.Info("Reconciliation sweep already running elsewhere, skipping")
		return
	}
	if err != nil {
		logger.Error("Reconciliation sweep failed: %v", err)
		return
	}
	if res.Resolved > 0 {
		logger.Info("Reconciliation settled %d polls", res.Resolved)
	}
}
