package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// IndexStore is the narrow transactional dependency the Index Processor
// needs for step e of spec section 4.3: persist newly detected faces and
// flip the photo's status to indexed in a single DB transaction.
// totalFaceCount is faceCount recorded on the photo row: it may exceed
// len(faces) when some of a redelivered job's faces were already
// persisted by a prior attempt and were filtered out before this call.
type IndexStore interface {
	PersistFaceResult(ctx context.Context, photoID, eventID uuid.UUID, faces []models.Face, totalFaceCount int, indexedAt time.Time) error
}

// TransactionalIndexStore is the real implementation.
type TransactionalIndexStore struct {
	db     *database.DB
	photos *PhotoRepository
	faces  *FaceRepository
}

func NewTransactionalIndexStore(db *database.DB, photos *PhotoRepository, faces *FaceRepository) *TransactionalIndexStore {
	return &TransactionalIndexStore{db: db, photos: photos, faces: faces}
}

func (s *TransactionalIndexStore) PersistFaceResult(ctx context.Context, photoID, eventID uuid.UUID, faces []models.Face, totalFaceCount int, indexedAt time.Time) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if len(faces) > 0 {
			if err := s.faces.InsertBatch(ctx, tx, faces); err != nil {
				return fmt.Errorf("persist faces: %w", err)
			}
		}
		return s.photos.MarkIndexed(ctx, tx, photoID, totalFaceCount, indexedAt)
	})
}
