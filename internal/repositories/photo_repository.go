package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// PhotoRepository persists normalized photos, jointly mutated by the
// Upload Processor (create) and Index Processor (status/faces) under
// distinct row locks (spec section 3 Ownership summary).
type PhotoRepository struct {
	db *database.DB
}

func NewPhotoRepository(db *database.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// Create inserts the Photo row inside the same transaction as the credit
// debit (spec section 4.2 step 9).
func (r *PhotoRepository) Create(ctx context.Context, tx *sqlx.Tx, photo *models.Photo) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO photos (id, event_id, r2_key, status, face_count, width, height, file_size, original_mime_type, original_file_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`, photo.ID, photo.EventID, photo.R2Key, photo.Status, photo.FaceCount,
		photo.Width, photo.Height, photo.FileSize, photo.OriginalMimeType, photo.OriginalFileSize)
	if err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

func (r *PhotoRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	var p models.Photo
	err := r.db.GetContext(ctx, &p, `
		SELECT id, event_id, r2_key, status, face_count, retryable, error_name, width, height, file_size,
		       original_mime_type, original_file_size, indexed_at, deleted_at, created_at
		FROM photos WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return &p, nil
}

// MarkIndexed flips status=indexed, records faceCount/indexedAt, and
// clears retryable/errorName, in the same transaction as face persistence
// (spec section 4.3 step e).
func (r *PhotoRepository) MarkIndexed(ctx context.Context, tx *sqlx.Tx, photoID uuid.UUID, faceCount int, indexedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE photos
		SET status = $1, face_count = $2, indexed_at = $3, retryable = NULL, error_name = NULL
		WHERE id = $4
	`, models.PhotoIndexed, faceCount, indexedAt, photoID)
	if err != nil {
		return fmt.Errorf("mark photo indexed: %w", err)
	}
	return nil
}

// MarkFailed records an index failure (spec section 7's Index Processor
// taxonomy). A retryable/throttle classification leaves status untouched —
// the photo is still eligible for a later successful attempt — and only
// records retryable/errorName for observability. Only a terminal
// classification flips status to failed.
func (r *PhotoRepository) MarkFailed(ctx context.Context, photoID uuid.UUID, retryable bool, errorName string) error {
	var err error
	if retryable {
		_, err = r.db.ExecContext(ctx, `
			UPDATE photos SET retryable = $1, error_name = $2 WHERE id = $3
		`, retryable, errorName, photoID)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE photos SET status = $1, retryable = $2, error_name = $3 WHERE id = $4
		`, models.PhotoFailed, retryable, errorName, photoID)
	}
	if err != nil {
		return fmt.Errorf("mark photo failed: %w", err)
	}
	return nil
}

// SoftDeleteForEvent sets deletedAt on every undeleted photo of eventID and
// returns the count affected (spec section 4.4 reconciler step 3a).
func (r *PhotoRepository) SoftDeleteForEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photos SET deleted_at = now() WHERE event_id = $1 AND deleted_at IS NULL
	`, eventID)
	if err != nil {
		return 0, fmt.Errorf("soft delete photos for event: %w", err)
	}
	return res.RowsAffected()
}

// HasUndeleted reports whether eventID still has photos with deletedAt
// unset (spec section 4.4 reconciler step 1).
func (r *PhotoRepository) HasUndeleted(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM photos WHERE event_id = $1 AND deleted_at IS NULL)
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("check undeleted photos: %w", err)
	}
	return exists, nil
}
