package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// FaceRepository persists detected-face rows, created by the Index
// Processor in the same transaction as the owning photo's status flip
// (spec section 3).
type FaceRepository struct {
	db *database.DB
}

func NewFaceRepository(db *database.DB) *FaceRepository {
	return &FaceRepository{db: db}
}

// InsertBatch inserts one row per face detected on a single photo.
func (r *FaceRepository) InsertBatch(ctx context.Context, tx *sqlx.Tx, faces []models.Face) error {
	for _, f := range faces {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO faces (id, photo_id, event_id, provider_face_id, bbox_width, bbox_height, bbox_left, bbox_top, confidence, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		`, f.ID, f.PhotoID, f.EventID, f.ProviderFaceID,
			f.BoundingBox.Width, f.BoundingBox.Height, f.BoundingBox.Left, f.BoundingBox.Top,
			f.Confidence, nullableEmbedding(f.Embedding))
		if err != nil {
			return fmt.Errorf("insert face %s: %w", f.ID, err)
		}
	}
	return nil
}

// nullableEmbedding is nil for providers that don't return embeddings
// (Rekognition keeps match state server-side); pgvector's own NULL column
// support handles the managed-provider case without a sentinel value.
func nullableEmbedding(e []float32) interface{} {
	if len(e) == 0 {
		return nil
	}
	v := pgvector.NewVector(e)
	return &v
}

// ExistingProviderFaceIDs returns the providerFaceId values already
// persisted for photoID, used to make re-delivered index jobs idempotent
// against partial prior inserts.
func (r *FaceRepository) ExistingProviderFaceIDs(ctx context.Context, photoID uuid.UUID) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT provider_face_id FROM faces WHERE photo_id = $1`, photoID)
	if err != nil {
		return nil, fmt.Errorf("select existing faces: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
