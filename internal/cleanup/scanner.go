// Package cleanup implements the Cleanup Engine (spec section 4.4): a
// scheduled scan that finds events past retention and enqueues a
// reconciliation job per event, and a reconciler that tears down the
// provider-side collection and soft-deletes the event's photos.
package cleanup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/queue"
)

// EventLister is the subset of repositories.EventRepository the scanner
// needs.
type EventLister interface {
	DueForCleanup(ctx context.Context, cutoff, now time.Time, afterID uuid.UUID, limit int) ([]models.Event, error)
}

// JobQueue is the outbound side of the scan→reconciler handoff (spec
// section 6.3).
type JobQueue interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// Scanner runs the periodic retention scan (spec section 4.4 step 1).
type Scanner struct {
	events    EventLister
	queue     JobQueue
	batchSize int
	log       *slog.Logger
}

func NewScanner(events EventLister, q JobQueue, batchSize int, log *slog.Logger) *Scanner {
	return &Scanner{events: events, queue: q, batchSize: batchSize, log: log}
}

// Run scans for events past retentionCutoff and expired as of now,
// enqueuing one CleanupJob per event found (spec section 4.4 step 1: "Select
// up to BATCH_SIZE events"). It selects a single batchSize-bounded page per
// invocation rather than paging until exhausted — the scan is cron-driven
// (daily), so any events left over past batchSize are picked up by the next
// scheduled run.
func (s *Scanner) Run(ctx context.Context, retentionCutoff, now time.Time) (int, error) {
	total := 0
	events, err := s.events.DueForCleanup(ctx, retentionCutoff, now, uuid.Nil, s.batchSize)
	if err != nil {
		return total, err
	}

	for _, ev := range events {
		job := queue.CleanupJob{EventID: ev.ID, CollectionID: ev.CollectionID}
		payload, err := json.Marshal(job)
		if err != nil {
			s.log.Error("marshal cleanup job failed", "event_id", ev.ID, "error", err)
			continue
		}
		if _, err := s.queue.Publish(ctx, payload); err != nil {
			s.log.Error("publish cleanup job failed", "event_id", ev.ID, "error", err)
			continue
		}
		total++
	}

	s.log.Info("cleanup scan complete", "events_enqueued", total)
	return total, nil
}
