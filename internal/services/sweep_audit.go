package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

// recordSweep persists a sweep run. Audit failures are logged, never returned.
func recordSweep(ctx context.Context, repo repository.Repository, kind models.SweepKind, forced *uuid.UUID, started time.Time, processed, failed int, results interface{}) {
	payload, err := json.Marshal(results)
	if err != nil {
		logger.Error("Sweep: failed to encode %s results: %v", kind, err)
		payload = []byte("[]")
	}

	run := &models.SweepRun{
		Kind:         kind,
		ForcedPollID: forced,
		Processed:    processed,
		Failed:       failed,
		Results:      datatypes.JSON(payload),
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if err := repo.CreateSweepRun(ctx, run); err != nil {
		logger.Error("Sweep: failed to record %s run: %v", kind, err)
	}
}
