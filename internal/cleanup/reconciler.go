package cleanup

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/provider"
)

// EventStore is the subset of repositories.EventRepository the reconciler
// needs.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ClearCollectionID(ctx context.Context, eventID uuid.UUID) error
}

// PhotoCleaner is the subset of repositories.PhotoRepository the
// reconciler needs.
type PhotoCleaner interface {
	HasUndeleted(ctx context.Context, eventID uuid.UUID) (bool, error)
	SoftDeleteForEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// Reconciler tears down one event's provider collection and soft-deletes
// its photos (spec section 4.4 steps 2-3). Every step is idempotent, so
// running the same CleanupJob twice is a no-op the second time.
type Reconciler struct {
	events   EventStore
	photos   PhotoCleaner
	provider provider.Provider
	log      *slog.Logger
}

func NewReconciler(events EventStore, photos PhotoCleaner, prov provider.Provider, log *slog.Logger) *Reconciler {
	return &Reconciler{events: events, photos: photos, provider: prov, log: log}
}

// Reconcile processes one CleanupJob. The returned error, if any, is a
// *classify.Error the caller uses to decide ack vs retry.
func (r *Reconciler) Reconcile(ctx context.Context, eventID uuid.UUID) error {
	event, err := r.events.GetByID(ctx, eventID)
	if err != nil {
		return classify.Retryable("database", "", err)
	}
	if event == nil {
		return classify.IdempotentSuccess("event_not_found", "")
	}

	hasUndeleted, err := r.photos.HasUndeleted(ctx, eventID)
	if err != nil {
		return classify.Retryable("database", "", err)
	}
	if hasUndeleted {
		if _, err := r.photos.SoftDeleteForEvent(ctx, eventID); err != nil {
			return classify.Retryable("database", "", err)
		}
	}

	if event.CollectionID != nil {
		if err := r.provider.DeleteCollection(ctx, *event.CollectionID); err != nil {
			if classified, ok := err.(*classify.Error); !ok || classified.Kind != classify.KindIdempotentSuccess {
				return err
			}
		}
		if err := r.events.ClearCollectionID(ctx, eventID); err != nil {
			return classify.Retryable("database", "", err)
		}
	}

	return nil
}
