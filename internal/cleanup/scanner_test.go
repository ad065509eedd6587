package cleanup

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/queue"
)

type fakeEventLister struct {
	pages [][]models.Event
	calls int
}

func (f *fakeEventLister) DueForCleanup(ctx context.Context, cutoff, now time.Time, afterID uuid.UUID, limit int) ([]models.Event, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

type fakeScanQueue struct {
	published [][]byte
}

func (f *fakeScanQueue) Publish(ctx context.Context, payload []byte) (string, error) {
	f.published = append(f.published, payload)
	return "1-0", nil
}

func TestScannerEnqueuesOnePerEvent(t *testing.T) {
	collectionA := "a"
	lister := &fakeEventLister{pages: [][]models.Event{
		{{ID: uuid.New(), CollectionID: &collectionA}, {ID: uuid.New()}},
	}}
	q := &fakeScanQueue{}

	s := NewScanner(lister, q, 10, slog.Default())
	n, err := s.Run(context.Background(), time.Now().Add(-30*24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, q.published, 2)

	var job queue.CleanupJob
	require.NoError(t, json.Unmarshal(q.published[0], &job))
	assert.NotEqual(t, uuid.Nil, job.EventID)
}

func TestScannerSelectsAtMostOneBatchPerRun(t *testing.T) {
	lister := &fakeEventLister{pages: [][]models.Event{
		make([]models.Event, 2),
		make([]models.Event, 2),
	}}
	for i := range lister.pages[0] {
		lister.pages[0][i].ID = uuid.New()
	}
	for i := range lister.pages[1] {
		lister.pages[1][i].ID = uuid.New()
	}
	q := &fakeScanQueue{}

	s := NewScanner(lister, q, 2, slog.Default())
	n, err := s.Run(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, lister.calls)
}
