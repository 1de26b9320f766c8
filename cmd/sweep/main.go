// Command sweep runs one closing or reconciliation sweep and prints the result.
//
//	go run ./cmd/sweep -kind close -force 7d1c...   # close one poll now
//	go run ./cmd/sweep -kind reconcile
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/db"
	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/services"
	"github.com/swarmbet/backend/internal/vocdoni"
)

func main() {
	kind := flag.String("kind", "close", "sweep to run: close or reconcile")
	force := flag.String("force", "", "poll id to close regardless of its deadline (close only)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	log.Printf("🚀 Starting manual %s sweep...", *kind)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := db.OpenStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	redisClient, closeRedis, err := db.ConnectRedisOrEmbedded(cfg)
	if err != nil {
		log.Fatalf("failed to start redis: %v", err)
	}
	defer closeRedis()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	locker := services.NewLocker(redisClient)
	var result interface{}
	switch *kind {
	case "close":
		var forceID *uuid.UUID
		if *force != "" {
			id, err := uuid.Parse(*force)
			if err != nil {
				log.Fatalf("invalid -force poll id: %v", err)
			}
			forceID = &id
		}
		svc := services.NewResolutionService(store, vocdoni.NewClient(cfg), locker, cfg.Engine)
		result, err = svc.CloseDuePolls(ctx, forceID)
	case "reconcile":
		if *force != "" {
			log.Fatalf("-force only applies to -kind close")
		}
		svc := services.NewOutcomeService(store, gamma.NewClient(cfg), locker, cfg.Engine)
		result, err = svc.ReconcileOutcomes(ctx)
	default:
		log.Fatalf("unknown -kind %q", *kind)
	}
	if err != nil {
		log.Fatalf("%s sweep failed: %v", *kind, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to print result: %v", err)
	}
	fmt.Fprintln(os.Stderr, "✅ Manual sweep completed.")
}
