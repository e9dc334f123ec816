// Package scheduler triggers periodic incremental imports so the catalog
// tracks the supplier feed without manual runs.
package scheduler

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/importer"
	"github.com/recambia/recambia/pkg/models"
)

// Scheduler runs incremental imports on a fixed interval. The orchestrator's
// per-type running guard keeps overlapping ticks from stacking runs.
type Scheduler struct {
	orchestrator *importer.Orchestrator
	logger       ectologger.Logger
	interval     time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// New creates a new scheduler.
func New(orchestrator *importer.Orchestrator, interval time.Duration, logger ectologger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	s.logger.WithFields(map[string]any{"interval": s.interval.String()}).Info("Import scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Import scheduler stopped: context cancelled")
			return
		case <-s.stop:
			s.logger.Info("Import scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	run, err := s.orchestrator.StartImport(ctx, models.ImportTypeAll, models.StartImportRequest{})
	if err != nil {
		// A run already in flight is the expected collision, not a failure.
		s.logger.WithContext(ctx).WithError(err).Debug("Scheduled import skipped")
		return
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"import_id": run.ID}).Info("Scheduled incremental import started")
}
