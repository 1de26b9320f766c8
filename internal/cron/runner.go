/**
 * @description
 * Cron runner for the worker's periodic sweeps.
 * Specs use the six-field format (seconds first). A run that is still in progress
 * when its next tick fires is skipped, and panics are logged instead of killing the worker.
 *
 * @dependencies
 * - github.com/robfig/cron/v3
 */

package cronrunner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/swarmbet/backend/internal/logger"
)

type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	l := cronLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. The job receives the runner's base context.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	logger.Info("cron: scheduled %s at %q", name, spec)
	return id, nil
}

func (r *Runner) Start() {
	logger.Info("cron started")
	r.cron.Start()
}

// Stop blocks until running jobs return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.Info("cron stopped")
}

// cronLogger routes robfig/cron's own logging to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// robfig logs every wake-up at info; only skips are worth surfacing
	if msg == "skip" {
		logger.Warn("cron: previous run still in progress, skipping %v", keysAndValues)
	}
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
