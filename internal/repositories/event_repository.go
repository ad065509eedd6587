package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// EventRepository reads/writes the collection-context entity. collectionId
// is set by the Index Processor on first successful index and cleared by
// the Cleanup Engine (spec section 3 Ownership summary).
type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, `
		SELECT id, photographer_id, expires_at, collection_id, created_at, deleted_at
		FROM events WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// SetCollectionID is called the first time an index attempt finds the
// event without a collection, after the provider collection is created and
// before faces are indexed; idempotent under retries since it always sets the same value
// (the event id itself, per spec section 4.3 step c). Runs as a single
// statement rather than inside the face-persistence transaction — the
// spec only requires transactional semantics for credit-debit and
// face-persistence; this assignment's own idempotence makes a wider
// transaction unnecessary (spec section 9 Design Notes).
func (r *EventRepository) SetCollectionID(ctx context.Context, eventID uuid.UUID, collectionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET collection_id = $1 WHERE id = $2`, collectionID, eventID)
	if err != nil {
		return fmt.Errorf("set collection id: %w", err)
	}
	return nil
}

// ClearCollectionID is called by the Cleanup Engine reconciler after the
// provider-side collection has been torn down.
func (r *EventRepository) ClearCollectionID(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET collection_id = NULL WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("clear collection id: %w", err)
	}
	return nil
}

// DueForCleanup selects up to limit events eligible for the scheduled scan
// (spec section 4.4): created before the retention cutoff, already
// expired, and still carrying a provider collection. afterID paginates by
// id (ordered ascending) rather than offset: reconciliation is asynchronous
// (spec section 4.4 step 2 runs off a queue, not inline in the scan), so a
// row's collection_id is still set the next time the scan pages through it
// and an OFFSET-based page would keep re-selecting the same rows instead of
// advancing.
func (r *EventRepository) DueForCleanup(ctx context.Context, cutoff, now time.Time, afterID uuid.UUID, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, photographer_id, expires_at, collection_id, created_at, deleted_at
		FROM events
		WHERE created_at < $1 AND expires_at < $2 AND collection_id IS NOT NULL AND id > $3
		ORDER BY id ASC
		LIMIT $4
	`, cutoff, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select events due for cleanup: %w", err)
	}
	return events, nil
}
