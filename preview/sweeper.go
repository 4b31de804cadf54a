package preview

import (
	"context"
	"errors"
	"fmt"
	"workflow-preview/core"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper retries the deletion of orphaned preview images on a cron schedule.
type Sweeper struct {
	store     core.ObjectStore
	queue     core.DeletionQueue
	batchSize int
	cron      *cron.Cron
}

func NewSweeper(store core.ObjectStore, queue core.DeletionQueue, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		store:     store,
		queue:     queue,
		batchSize: batchSize,
	}
}

// Start schedules Sweep with a six-field cron expression (seconds first).
func (s *Sweeper) Start(schedule string) error {
	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			logrus.WithError(err).Error("Orphan sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule orphan sweeper: %w", err)
	}

	s.cron = c
	c.Start()
	logrus.WithField("schedule", schedule).Info("Orphan sweeper started")
	return nil
}

// Stop halts the schedule and returns a context that is done once a running sweep ends.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Sweep deletes up to one batch of queued objects and returns how many were cleared.
// Objects already gone count as cleared; failures stay queued with their attempt count bumped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.queue.ListPendingDeletions(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending deletions: %w", err)
	}

	cleared := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		log := logrus.WithFields(logrus.Fields{"key": p.Key, "attempts": p.Attempts, "backend": s.store.Backend()})

		err := s.store.Delete(ctx, p.Key)
		if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
			log.WithError(err).Warn("Orphaned image still not deleted")
			if qerr := s.queue.AddPendingDeletion(ctx, p.Key, err.Error()); qerr != nil {
				log.WithError(qerr).Error("Failed to update pending deletion")
			}
			continue
		}

		if err := s.queue.RemovePendingDeletion(ctx, p.Key); err != nil {
			log.WithError(err).Error("Failed to clear pending deletion")
			continue
		}
		cleared++
		log.Info("Orphaned image deleted")
	}
	return cleared, nil
}
