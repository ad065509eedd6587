package cleanup

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/provider"
)

type fakeEventStore struct {
	events map[uuid.UUID]*models.Event
}

func (f *fakeEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return f.events[id], nil
}

func (f *fakeEventStore) ClearCollectionID(ctx context.Context, eventID uuid.UUID) error {
	if ev, ok := f.events[eventID]; ok {
		ev.CollectionID = nil
	}
	return nil
}

type fakePhotoCleaner struct {
	undeleted       map[uuid.UUID]bool
	softDeleteCalls int
}

func (f *fakePhotoCleaner) HasUndeleted(ctx context.Context, eventID uuid.UUID) (bool, error) {
	return f.undeleted[eventID], nil
}

func (f *fakePhotoCleaner) SoftDeleteForEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	f.softDeleteCalls++
	f.undeleted[eventID] = false
	return 3, nil
}

// stubProvider implements provider.Provider; only DeleteCollection is
// exercised by the reconciler.
type stubProvider struct {
	deleteCalls []string
	deleteErr   error
}

func (s *stubProvider) CreateCollection(ctx context.Context, collectionID string) error {
	return nil
}

func (s *stubProvider) DeleteCollection(ctx context.Context, collectionID string) error {
	s.deleteCalls = append(s.deleteCalls, collectionID)
	return s.deleteErr
}

func (s *stubProvider) IndexFaces(ctx context.Context, collectionID string, imageBytes []byte, externalImageID string, opts provider.Options) (*provider.IndexResult, error) {
	return &provider.IndexResult{}, nil
}

func (s *stubProvider) SearchFacesByImage(ctx context.Context, collectionID string, imageBytes []byte, maxResults int, minSimilarity float64) ([]provider.FaceMatch, error) {
	return nil, nil
}

func TestReconcileCompletedEvent(t *testing.T) {
	eventID := uuid.New()
	collectionID := eventID.String()
	events := &fakeEventStore{events: map[uuid.UUID]*models.Event{
		eventID: {ID: eventID, CollectionID: &collectionID},
	}}
	photos := &fakePhotoCleaner{undeleted: map[uuid.UUID]bool{eventID: true}}
	prov := &stubProvider{}

	r := NewReconciler(events, photos, prov, slog.Default())
	err := r.Reconcile(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, []string{collectionID}, prov.deleteCalls)
	assert.Nil(t, events.events[eventID].CollectionID)
	assert.Equal(t, 1, photos.softDeleteCalls)
}

func TestReconcileTwiceIsNoop(t *testing.T) {
	eventID := uuid.New()
	collectionID := eventID.String()
	events := &fakeEventStore{events: map[uuid.UUID]*models.Event{
		eventID: {ID: eventID, CollectionID: &collectionID},
	}}
	photos := &fakePhotoCleaner{undeleted: map[uuid.UUID]bool{eventID: true}}
	prov := &stubProvider{}

	r := NewReconciler(events, photos, prov, slog.Default())
	require.NoError(t, r.Reconcile(context.Background(), eventID))
	require.NoError(t, r.Reconcile(context.Background(), eventID))

	assert.Equal(t, 1, len(prov.deleteCalls), "second run must not re-delete a collection that's already cleared")
	assert.Equal(t, 1, photos.softDeleteCalls, "second run must not re-soft-delete already-deleted photos")
}

func TestReconcileMissingEventIsIdempotentSuccess(t *testing.T) {
	events := &fakeEventStore{events: map[uuid.UUID]*models.Event{}}
	photos := &fakePhotoCleaner{undeleted: map[uuid.UUID]bool{}}
	prov := &stubProvider{}

	r := NewReconciler(events, photos, prov, slog.Default())
	err := r.Reconcile(context.Background(), uuid.New())
	require.Error(t, err)

	classified, ok := err.(*classify.Error)
	require.True(t, ok)
	assert.Equal(t, classify.KindIdempotentSuccess, classified.Kind)
}
