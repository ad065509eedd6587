// Package upload implements the Upload Processor (spec section 4.2): the
// 11-step pipeline from an object-create notification to a persisted,
// normalized, credit-debited photo with a queued indexing job.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/imaging"
	"github.com/sabaipics/pipeline/internal/models"
	"github.com/sabaipics/pipeline/internal/queue"
	"github.com/sabaipics/pipeline/internal/repositories"
	"github.com/sabaipics/pipeline/internal/storage"
)

// IntentStore is the subset of upload-intent persistence the processor
// needs, narrow enough to fake in tests.
type IntentStore interface {
	GetByR2Key(ctx context.Context, r2Key string) (*models.UploadIntent, error)
	Fail(ctx context.Context, intentID uuid.UUID, errorCode, errorMessage string) error
	MarkExpired(ctx context.Context, intentID uuid.UUID) error
}

// PhotoLookup is the subset of photo persistence the processor needs for
// its idempotency check on re-delivery.
type PhotoLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error)
}

// IndexJobQueue is the outbound side of the Upload→Index handoff (spec
// section 6.2).
type IndexJobQueue interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// Config is the subset of internal/config.Config the processor needs.
type Config struct {
	MaxFileSize      int64
	NormalizeMaxDim  int
	NormalizeQuality int
}

// Processor runs the Upload Processor pipeline for one message at a time
// (messages within a batch are processed sequentially per spec section 5,
// since each already involves a multi-step pipeline and a DB transaction).
type Processor struct {
	store      storage.ObjectStore
	intents    IntentStore
	photos     PhotoLookup
	uploads    repositories.UploadStore
	indexQueue IndexJobQueue
	cfg        Config
	log        *slog.Logger
}

// New builds an Upload Processor wired to its collaborators.
func New(store storage.ObjectStore, intents IntentStore, photos PhotoLookup,
	uploads repositories.UploadStore, indexQueue IndexJobQueue, cfg Config, log *slog.Logger) *Processor {
	return &Processor{
		store: store, intents: intents, photos: photos,
		uploads: uploads, indexQueue: indexQueue, cfg: cfg, log: log,
	}
}

const uploadsPrefix = "uploads/"

// Handle processes one object-store notification end to end. The returned
// error, if any, is a *classify.Error the caller uses to decide ack vs
// retry.
func (p *Processor) Handle(ctx context.Context, ev queue.ObjectEvent) error {
	if !isRelevant(ev) {
		return nil
	}

	eventTime, err := time.Parse(time.RFC3339, ev.EventTime)
	if err != nil {
		eventTime = time.Now()
	}

	intent, err := p.intents.GetByR2Key(ctx, ev.Object.Key)
	if err != nil {
		return classify.Retryable("database", "", err)
	}
	if intent == nil {
		// orphan: delete object, ack.
		if derr := p.store.DeleteObject(ctx, ev.Object.Key); derr != nil {
			p.log.Warn("orphan cleanup delete failed", "key", ev.Object.Key, "error", derr)
		}
		return classify.IdempotentSuccess("orphan", "")
	}

	// Idempotency: a re-delivered message whose intent is already
	// completed/failed short-circuits without side effects.
	if intent.Status == models.IntentCompleted {
		if intent.PhotoID != nil {
			if photo, _ := p.photos.GetByID(ctx, *intent.PhotoID); photo != nil {
				return classify.IdempotentSuccess("already_completed", "")
			}
		}
	}
	if intent.Status == models.IntentFailed || intent.Status == models.IntentExpired {
		return classify.IdempotentSuccess("already_terminal", "")
	}

	if intent.ExpiresAt.Before(eventTime) {
		if derr := p.store.DeleteObject(ctx, ev.Object.Key); derr != nil {
			p.log.Warn("expired cleanup delete failed", "key", ev.Object.Key, "error", derr)
		}
		_ = p.intents.MarkExpired(ctx, intent.ID)
		return classify.IdempotentSuccess("expired", "")
	}

	size, err := p.store.HeadObject(ctx, ev.Object.Key)
	if err != nil {
		return classify.Retryable("object_store", "", err)
	}
	if size > p.cfg.MaxFileSize {
		return p.failInvalidFile(ctx, ev.Object.Key, intent.ID, "size_exceeded")
	}

	data, err := p.store.GetObject(ctx, ev.Object.Key)
	if err != nil {
		return classify.Retryable("object_store", "", err)
	}

	if !imaging.Valid(data) {
		return p.failInvalidFile(ctx, ev.Object.Key, intent.ID, "invalid_magic_bytes")
	}

	normalized, width, height, err := imaging.Normalize(data, p.cfg.NormalizeMaxDim, p.cfg.NormalizeQuality)
	if err != nil {
		p.log.Warn("normalization failed", "intent_id", intent.ID, "error", err)
		_ = p.intents.Fail(ctx, intent.ID, "normalization_failed", err.Error())
		return classify.Retryable("normalization", "", err)
	}

	photoID := uuid.New()
	finalKey := fmt.Sprintf("%s/%s.jpg", intent.EventID, photoID)

	if err := p.store.PutObject(ctx, finalKey, normalized, "image/jpeg"); err != nil {
		return classify.Retryable("object_store", "", err)
	}

	now := time.Now()
	photo := &models.Photo{
		ID: photoID, EventID: intent.EventID, R2Key: finalKey, Status: models.PhotoUploading,
		Width: width, Height: height, FileSize: int64(len(normalized)),
		OriginalMimeType: contentTypeFromFormat(data), OriginalFileSize: int64(len(data)),
	}

	err = p.uploads.DebitAndPersistPhoto(ctx, intent.PhotographerID, now, photo, intent.ID)
	if err == repositories.ErrInsufficientCredits {
		_ = p.intents.Fail(ctx, intent.ID, "insufficient_credits", "photographer has no unexpired credit")
		return classify.IdempotentSuccess("insufficient_credits", "")
	}
	if err != nil {
		return classify.Retryable("database", "", err)
	}

	// Best-effort delete of the original upload object.
	if derr := p.store.DeleteObject(ctx, ev.Object.Key); derr != nil {
		p.log.Warn("original object cleanup failed", "key", ev.Object.Key, "error", derr)
	}

	job := queue.PhotoJob{PhotoID: photoID, EventID: intent.EventID, R2Key: finalKey}
	payload, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		return classify.Terminal("marshal_photo_job", "", marshalErr)
	}
	if _, err := p.indexQueue.Publish(ctx, payload); err != nil {
		return classify.Retryable("queue", "", err)
	}

	return nil
}

func (p *Processor) failInvalidFile(ctx context.Context, key string, intentID uuid.UUID, reason string) error {
	if derr := p.store.DeleteObject(ctx, key); derr != nil {
		p.log.Warn("invalid file cleanup delete failed", "key", key, "error", derr)
	}
	_ = p.intents.Fail(ctx, intentID, reason, "invalid_file: "+reason)
	return classify.IdempotentSuccess("invalid_file", "")
}

func isRelevant(ev queue.ObjectEvent) bool {
	if ev.Action != "PutObject" && ev.Action != "CompleteMultipartUpload" {
		return false
	}
	return strings.HasPrefix(ev.Object.Key, uploadsPrefix)
}

func contentTypeFromFormat(data []byte) string {
	switch imaging.DetectFormat(data) {
	case imaging.FormatJPEG:
		return "image/jpeg"
	case imaging.FormatPNG:
		return "image/png"
	case imaging.FormatGIF:
		return "image/gif"
	case imaging.FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
