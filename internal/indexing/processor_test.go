package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/provider"
	"github.com/sabaipics/pipeline/internal/queue"
	"github.com/sabaipics/pipeline/internal/ratelimiter"
)

// fakeObjectStore is an in-memory stand-in for ObjectStore.
type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return data, nil
}

// fakeEventStore is an in-memory stand-in for EventStore.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.Event
}

func (f *fakeEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *fakeEventStore) SetCollectionID(ctx context.Context, eventID uuid.UUID, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[eventID].CollectionID = &collectionID
	return nil
}

// fakeRateLimiter records calls without pacing a real clock.
type fakeRateLimiter struct {
	mu            sync.Mutex
	reserveCalls  []int
	throttleCalls []int64
}

func (f *fakeRateLimiter) ReserveBatch(n int) ratelimiter.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls = append(f.reserveCalls, n)
	return ratelimiter.Reservation{Delay: 0, IntervalMs: 1}
}

func (f *fakeRateLimiter) ReportThrottle(extraMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttleCalls = append(f.throttleCalls, extraMs)
}

// fakeIndexStore is an in-memory stand-in for repositories.IndexStore.
type fakeIndexStore struct {
	mu        sync.Mutex
	persist   map[uuid.UUID][]models.Face
	faceCount map[uuid.UUID]int
}

func (f *fakeIndexStore) PersistFaceResult(ctx context.Context, photoID, eventID uuid.UUID, faces []models.Face, totalFaceCount int, indexedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persist[photoID] = faces
	f.faceCount[photoID] = totalFaceCount
	return nil
}

// fakePhotoStore is an in-memory stand-in for PhotoStore.
type fakePhotoStore struct {
	mu     sync.Mutex
	photos map[uuid.UUID]*models.Photo
	failed map[uuid.UUID]string
}

func (f *fakePhotoStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.photos[id]
	if !ok {
		return &models.Photo{ID: id, Status: models.PhotoIndexing}, nil
	}
	return p, nil
}

func (f *fakePhotoStore) MarkFailed(ctx context.Context, photoID uuid.UUID, retryable bool, errorName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[photoID] = errorName
	return nil
}

// fakeFaceLookup is an in-memory stand-in for FaceLookup.
type fakeFaceLookup struct {
	mu       sync.Mutex
	existing map[uuid.UUID]map[string]bool
}

func (f *fakeFaceLookup) ExistingProviderFaceIDs(ctx context.Context, photoID uuid.UUID) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing == nil {
		return map[string]bool{}, nil
	}
	return f.existing[photoID], nil
}

// fakeProvider lets each test script per-call outcomes keyed by externalImageID.
type fakeProvider struct {
	mu            sync.Mutex
	createCalls   []string
	indexOutcomes map[string]func() (*provider.IndexResult, error)
}

func (f *fakeProvider) CreateCollection(ctx context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, collectionID)
	return nil
}

func (f *fakeProvider) DeleteCollection(ctx context.Context, collectionID string) error { return nil }

func (f *fakeProvider) IndexFaces(ctx context.Context, collectionID string, imageBytes []byte, externalImageID string, opts provider.Options) (*provider.IndexResult, error) {
	f.mu.Lock()
	fn, ok := f.indexOutcomes[externalImageID]
	f.mu.Unlock()
	if !ok {
		return &provider.IndexResult{}, nil
	}
	return fn()
}

func (f *fakeProvider) SearchFacesByImage(ctx context.Context, collectionID string, imageBytes []byte, maxResults int, minSimilarity float64) ([]provider.FaceMatch, error) {
	return nil, nil
}

func newHarness(t *testing.T) (*Processor, *fakeObjectStore, *fakeEventStore, *fakeRateLimiter, *fakeIndexStore, *fakePhotoStore, *fakeProvider) {
	store := &fakeObjectStore{objects: map[string][]byte{}}
	events := &fakeEventStore{events: map[uuid.UUID]*models.Event{}}
	rl := &fakeRateLimiter{}
	idx := &fakeIndexStore{persist: map[uuid.UUID][]models.Face{}, faceCount: map[uuid.UUID]int{}}
	photos := &fakePhotoStore{photos: map[uuid.UUID]*models.Photo{}, failed: map[uuid.UUID]string{}}
	faces := &fakeFaceLookup{existing: map[uuid.UUID]map[string]bool{}}
	prov := &fakeProvider{indexOutcomes: map[string]func() (*provider.IndexResult, error){}}

	cfg := Config{ProviderMaxBytes: 5 << 20, MaxFacesPerImage: 10, QualityFilter: "auto"}
	p := New(store, events, prov, idx, photos, faces, rl, cfg, slog.Default())
	return p, store, events, rl, idx, photos, prov
}

func TestIndexHappyPath(t *testing.T) {
	p, store, events, rl, idx, _, prov := newHarness(t)

	eventID := uuid.New()
	photoID := uuid.New()
	events.events[eventID] = &models.Event{ID: eventID}
	store.objects["events/photo.jpg"] = []byte("fake-jpeg-bytes")

	prov.indexOutcomes[photoID.String()] = func() (*provider.IndexResult, error) {
		return &provider.IndexResult{FaceRecords: []provider.FaceRecord{
			{FaceID: "face-1", Confidence: 0.98, BoundingBox: provider.BoundingBox{Width: 0.1, Height: 0.1, Left: 0.4, Top: 0.3}},
		}}, nil
	}

	job := queue.PhotoJob{PhotoID: photoID, EventID: eventID, R2Key: "events/photo.jpg"}
	outcomes := p.ProcessBatch(context.Background(), []queue.PhotoJob{job})

	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Len(t, rl.reserveCalls, 1)
	assert.Equal(t, 1, rl.reserveCalls[0])
	assert.Len(t, prov.createCalls, 1, "collection must be created lazily on first index")
	assert.NotNil(t, events.events[eventID].CollectionID)
	assert.Equal(t, eventID.String(), *events.events[eventID].CollectionID)
	assert.Len(t, idx.persist[photoID], 1)
	assert.Empty(t, rl.throttleCalls)
}

func TestIndexCollectionCreatedOnlyOnce(t *testing.T) {
	p, store, events, _, _, _, prov := newHarness(t)

	eventID := uuid.New()
	events.events[eventID] = &models.Event{ID: eventID}
	store.objects["a.jpg"] = []byte("a")
	store.objects["b.jpg"] = []byte("b")

	photoA, photoB := uuid.New(), uuid.New()
	jobs := []queue.PhotoJob{
		{PhotoID: photoA, EventID: eventID, R2Key: "a.jpg"},
		{PhotoID: photoB, EventID: eventID, R2Key: "b.jpg"},
	}

	outcomes := p.ProcessBatch(context.Background(), jobs)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}
	assert.Len(t, prov.createCalls, 1, "a second message for the same event must not recreate the collection")
}

func TestIndexThrottledThenSucceedsReportsBackoffOnce(t *testing.T) {
	p, store, events, rl, idx, photos, prov := newHarness(t)

	eventID := uuid.New()
	events.events[eventID] = &models.Event{ID: eventID}

	throttledPhoto := uuid.New()
	okPhoto := uuid.New()
	store.objects["throttled.jpg"] = []byte("x")
	store.objects["ok.jpg"] = []byte("y")

	prov.indexOutcomes[throttledPhoto.String()] = func() (*provider.IndexResult, error) {
		return nil, classify.Throttle("throttling", "rekognition", nil)
	}
	prov.indexOutcomes[okPhoto.String()] = func() (*provider.IndexResult, error) {
		return &provider.IndexResult{}, nil
	}

	jobs := []queue.PhotoJob{
		{PhotoID: throttledPhoto, EventID: eventID, R2Key: "throttled.jpg"},
		{PhotoID: okPhoto, EventID: eventID, R2Key: "ok.jpg"},
	}
	outcomes := p.ProcessBatch(context.Background(), jobs)
	require.Len(t, outcomes, 2)

	byPhoto := map[uuid.UUID]error{}
	for _, o := range outcomes {
		byPhoto[o.Job.PhotoID] = o.Err
	}
	require.Error(t, byPhoto[throttledPhoto])
	classifiedErr, ok := byPhoto[throttledPhoto].(*classify.Error)
	require.True(t, ok)
	assert.True(t, classifiedErr.Throttle())
	assert.NoError(t, byPhoto[okPhoto])

	assert.Len(t, rl.throttleCalls, 1, "only one ReportThrottle call per batch regardless of how many messages throttled")
	assert.Equal(t, int64(2000), rl.throttleCalls[0])
	assert.Equal(t, "rekognition", photos.failed[throttledPhoto])
	assert.Empty(t, idx.persist[throttledPhoto])
	assert.Len(t, idx.persist[okPhoto], 0)
}

func TestIndexSkipsAlreadyIndexedPhoto(t *testing.T) {
	p, store, events, _, idx, photos, prov := newHarness(t)

	eventID := uuid.New()
	photoID := uuid.New()
	events.events[eventID] = &models.Event{ID: eventID}
	store.objects["events/photo.jpg"] = []byte("fake-jpeg-bytes")
	photos.photos[photoID] = &models.Photo{ID: photoID, Status: models.PhotoIndexed}

	job := queue.PhotoJob{PhotoID: photoID, EventID: eventID, R2Key: "events/photo.jpg"}
	outcomes := p.ProcessBatch(context.Background(), []queue.PhotoJob{job})

	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Empty(t, prov.createCalls, "an already-indexed photo must not trigger a provider call")
	assert.Empty(t, idx.persist[photoID])
}

func TestIndexDedupsAgainstAlreadyPersistedFaces(t *testing.T) {
	p, store, events, _, idx, photos, prov := newHarness(t)

	eventID := uuid.New()
	photoID := uuid.New()
	events.events[eventID] = &models.Event{ID: eventID}
	store.objects["events/photo.jpg"] = []byte("fake-jpeg-bytes")
	photos.photos[photoID] = &models.Photo{ID: photoID, Status: models.PhotoIndexing}

	faceLookup := p.faces.(*fakeFaceLookup)
	faceLookup.existing[photoID] = map[string]bool{"face-1": true}

	prov.indexOutcomes[photoID.String()] = func() (*provider.IndexResult, error) {
		return &provider.IndexResult{FaceRecords: []provider.FaceRecord{
			{FaceID: "face-1", Confidence: 0.98, BoundingBox: provider.BoundingBox{Width: 0.1, Height: 0.1, Left: 0.4, Top: 0.3}},
			{FaceID: "face-2", Confidence: 0.95, BoundingBox: provider.BoundingBox{Width: 0.1, Height: 0.1, Left: 0.2, Top: 0.1}},
		}}, nil
	}

	job := queue.PhotoJob{PhotoID: photoID, EventID: eventID, R2Key: "events/photo.jpg"}
	outcomes := p.ProcessBatch(context.Background(), []queue.PhotoJob{job})

	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	require.Len(t, idx.persist[photoID], 1, "only the face not already persisted should be inserted")
	assert.Equal(t, "face-2", idx.persist[photoID][0].ProviderFaceID)
	assert.Equal(t, 2, idx.faceCount[photoID], "total face count must include both the pre-existing and newly inserted face")
}

func TestIndexEmptyBatchIsNoop(t *testing.T) {
	p, _, _, rl, _, _, _ := newHarness(t)
	outcomes := p.ProcessBatch(context.Background(), nil)
	assert.Empty(t, outcomes)
	assert.Empty(t, rl.reserveCalls)
}
