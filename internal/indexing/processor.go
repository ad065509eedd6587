// Package indexing implements the Index Processor (spec section 4.3):
// paced, rate-limited fan-out to the face provider, transactional face
// persistence, and lazy per-event collection creation.
package indexing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/imaging"
	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/provider"
	"github.com/sabaipics/pipeline/internal/queue"
	"github.com/sabaipics/pipeline/internal/ratelimiter"
	"github.com/sabaipics/pipeline/internal/repositories"
)

// ObjectStore is the subset of storage.ObjectStore the Index Processor
// needs.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// EventStore is the subset of repositories.EventRepository the Index
// Processor needs to ensure a collection exists.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SetCollectionID(ctx context.Context, eventID uuid.UUID, collectionID string) error
}

// RateLimiter is the subset of internal/ratelimiter.Limiter the processor
// depends on.
type RateLimiter interface {
	ReserveBatch(n int) ratelimiter.Reservation
	ReportThrottle(extraMs int64)
}

// Config is the subset of internal/config.Config the processor needs.
type Config struct {
	ProviderMaxBytes int64
	MaxFacesPerImage int
	QualityFilter    string
}

// Fixed downscale target for oversize images on the index path (spec
// section 4.3 step b). This is a distinct, deliberately unconfigurable
// target from the stored-photo normalization config (internal/config's
// Normalize.MaxDim/Quality, spec section 6.6's NORMALIZE.maxDim/quality) —
// the two must not be conflated.
const (
	downscaleMaxDim  = 4096
	downscaleQuality = 85
)

// Processor runs the Index Processor's per-batch flow.
type Processor struct {
	store       ObjectStore
	events      EventStore
	provider    provider.Provider
	indexStore  repositories.IndexStore
	photos      PhotoStore
	faces       FaceLookup
	rateLimiter RateLimiter
	cfg         Config
	log         *slog.Logger
}

// PhotoStore is the subset of repositories.PhotoRepository the processor
// uses to short-circuit an already-indexed photo and to record a
// terminal/retry-pending index failure.
type PhotoStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	MarkFailed(ctx context.Context, photoID uuid.UUID, retryable bool, errorName string) error
}

// FaceLookup is the subset of repositories.FaceRepository the processor
// uses to make a re-delivered PhotoJob idempotent against faces already
// persisted by a prior, partially-completed attempt.
type FaceLookup interface {
	ExistingProviderFaceIDs(ctx context.Context, photoID uuid.UUID) (map[string]bool, error)
}

func New(store ObjectStore, events EventStore, prov provider.Provider, indexStore repositories.IndexStore,
	photos PhotoStore, faces FaceLookup, rateLimiter RateLimiter, cfg Config, log *slog.Logger) *Processor {
	return &Processor{
		store: store, events: events, provider: prov, indexStore: indexStore,
		photos: photos, faces: faces, rateLimiter: rateLimiter, cfg: cfg, log: log,
	}
}

// Outcome is the per-message result of ProcessBatch, used by the queue
// runtime to decide ack vs retry.
type Outcome struct {
	Job queue.PhotoJob
	Err error // a *classify.Error, or nil on success
}

// ProcessBatch runs spec section 4.3's per-batch flow: reserve a slot for
// the whole batch, stagger each message's start by i*intervalMs, process
// concurrently, and report throttle to the Rate Limiter at most once for
// the batch.
func (p *Processor) ProcessBatch(ctx context.Context, jobs []queue.PhotoJob) []Outcome {
	if len(jobs) == 0 {
		return nil
	}

	reservation := p.rateLimiter.ReserveBatch(len(jobs))
	select {
	case <-time.After(reservation.Delay):
	case <-ctx.Done():
		outcomes := make([]Outcome, len(jobs))
		for i, j := range jobs {
			outcomes[i] = Outcome{Job: j, Err: classify.Retryable("context_canceled", "", ctx.Err())}
		}
		return outcomes
	}

	outcomes := make([]Outcome, len(jobs))
	var throttled bool
	var throttledMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			time.Sleep(time.Duration(int64(i)*reservation.IntervalMs) * time.Millisecond)
			err := p.processOne(gctx, job)
			if classified, ok := err.(*classify.Error); ok && classified.Throttle() {
				throttledMu.Lock()
				throttled = true
				throttledMu.Unlock()
			}
			outcomes[i] = Outcome{Job: job, Err: err}
			return nil // errors are carried per-outcome, not propagated to the group
		})
	}
	_ = g.Wait()

	if throttled {
		p.rateLimiter.ReportThrottle(2000)
	}

	return outcomes
}

func (p *Processor) processOne(ctx context.Context, job queue.PhotoJob) error {
	photo, err := p.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return classify.Retryable("database", "", err)
	}
	if photo == nil {
		return classify.Terminal("not_found", "photo", nil)
	}
	// A re-delivered job for a photo that already finished indexing is a
	// pure no-op (spec section 8's idempotency invariant): skip the
	// provider call entirely instead of re-indexing and double-billing it.
	if photo.Status == models.PhotoIndexed {
		return nil
	}

	data, err := p.store.GetObject(ctx, job.R2Key)
	if err != nil {
		return classify.Terminal("not_found", "r2_image", err)
	}

	if int64(len(data)) > p.cfg.ProviderMaxBytes {
		if downscaled, derr := imaging.DownscaleForIndex(data, downscaleMaxDim, downscaleQuality); derr == nil {
			data = downscaled
		} else {
			p.log.Warn("downscale-for-index failed, falling back to original bytes", "photo_id", job.PhotoID, "error", derr)
		}
	}

	collectionID, err := p.ensureCollection(ctx, job.EventID)
	if err != nil {
		return err
	}

	result, err := p.provider.IndexFaces(ctx, collectionID, data, job.PhotoID.String(), provider.Options{
		MaxFaces:      p.cfg.MaxFacesPerImage,
		QualityFilter: p.cfg.QualityFilter,
	})
	if err != nil {
		p.recordFailure(ctx, job.PhotoID, err)
		return err
	}

	// Dedup against faces a prior, partially-completed attempt at this
	// same job already persisted, so redelivery doesn't double-insert.
	existing, err := p.faces.ExistingProviderFaceIDs(ctx, job.PhotoID)
	if err != nil {
		classified := classify.Retryable("database", "", err)
		p.recordFailure(ctx, job.PhotoID, classified)
		return classified
	}

	faces := make([]models.Face, 0, len(result.FaceRecords))
	for _, rec := range result.FaceRecords {
		if existing[rec.FaceID] {
			continue
		}
		faces = append(faces, models.Face{
			ID:             uuid.New(),
			PhotoID:        job.PhotoID,
			EventID:        job.EventID,
			ProviderFaceID: rec.FaceID,
			BoundingBox: models.BoundingBox{
				Width: rec.BoundingBox.Width, Height: rec.BoundingBox.Height,
				Left: rec.BoundingBox.Left, Top: rec.BoundingBox.Top,
			},
			Confidence: rec.Confidence,
			Embedding:  rec.Embedding,
		})
	}

	totalFaceCount := len(existing) + len(faces)
	if err := p.indexStore.PersistFaceResult(ctx, job.PhotoID, job.EventID, faces, totalFaceCount, time.Now()); err != nil {
		classified := classify.Retryable("database", "", err)
		p.recordFailure(ctx, job.PhotoID, classified)
		return classified
	}

	return nil
}

// ensureCollection implements spec section 4.3 step c: create the
// provider-side collection on first use, treating already-exists as
// success, and persist the assignment. The logical collection identifier
// equals the event id (spec section 4.3 step c, decided in DESIGN.md).
func (p *Processor) ensureCollection(ctx context.Context, eventID uuid.UUID) (string, error) {
	event, err := p.events.GetByID(ctx, eventID)
	if err != nil {
		return "", classify.Retryable("database", "", err)
	}
	if event == nil {
		return "", classify.Terminal("not_found", "event", nil)
	}
	if event.CollectionID != nil {
		return *event.CollectionID, nil
	}

	collectionID := eventID.String()
	if err := p.provider.CreateCollection(ctx, collectionID); err != nil {
		if classified, ok := err.(*classify.Error); !ok || classified.Kind != classify.KindIdempotentSuccess {
			return "", err
		}
	}
	if err := p.events.SetCollectionID(ctx, eventID, collectionID); err != nil {
		return "", classify.Retryable("database", "", err)
	}
	return collectionID, nil
}

func (p *Processor) recordFailure(ctx context.Context, photoID uuid.UUID, err error) {
	classified, ok := err.(*classify.Error)
	if !ok {
		return
	}
	retryable := classified.Retryable()
	errorName := classified.ProviderName
	if errorName == "" {
		errorName = classified.Code
	}
	if merr := p.photos.MarkFailed(ctx, photoID, retryable, errorName); merr != nil {
		p.log.Error("failed to record index failure on photo", "photo_id", photoID, "error", merr)
	}
}
