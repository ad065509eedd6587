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

// UploadIntentRepository manages the presign-time reservation the Upload
// Processor claims and transitions (spec section 3).
type UploadIntentRepository struct {
	db *database.DB
}

func NewUploadIntentRepository(db *database.DB) *UploadIntentRepository {
	return &UploadIntentRepository{db: db}
}

// GetByR2Key finds the intent whose r2Key matches an object-store
// notification's object key (spec section 4.2 step 1). Missing is not an
// error: the caller maps a nil result to the "orphan" classification.
func (r *UploadIntentRepository) GetByR2Key(ctx context.Context, r2Key string) (*models.UploadIntent, error) {
	var intent models.UploadIntent
	err := r.db.GetContext(ctx, &intent, `
		SELECT id, photographer_id, event_id, r2_key, content_type, content_length, status,
		       retryable, error_code, error_message, photo_id, created_at, expires_at, completed_at
		FROM upload_intents WHERE r2_key = $1
	`, r2Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload intent by r2 key: %w", err)
	}
	return &intent, nil
}

// GetByID reads an intent by id. It runs on the connection pool, not inside
// a transaction.
func (r *UploadIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadIntent, error) {
	var intent models.UploadIntent
	err := r.db.GetContext(ctx, &intent, `
		SELECT id, photographer_id, event_id, r2_key, content_type, content_length, status,
		       retryable, error_code, error_message, photo_id, created_at, expires_at, completed_at
		FROM upload_intents WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload intent: %w", err)
	}
	return &intent, nil
}

// CompleteWithPhoto transitions the intent to completed, recording the
// created photoId, inside the same transaction as the photo insert and
// credit debit (spec section 4.2 step 9).
func (r *UploadIntentRepository) CompleteWithPhoto(ctx context.Context, tx *sqlx.Tx, intentID, photoID uuid.UUID, completedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE upload_intents SET status = $1, photo_id = $2, completed_at = $3 WHERE id = $4
	`, models.IntentCompleted, photoID, completedAt, intentID)
	if err != nil {
		return fmt.Errorf("complete upload intent: %w", err)
	}
	return nil
}

// Fail transitions the intent to failed with the given error code/message
// (spec section 7's Upload Processor taxonomy). Runs outside the
// credit-debit transaction: invalid_file and normalization failures never
// reach it, and insufficient_credits is recorded after it has rolled back.
func (r *UploadIntentRepository) Fail(ctx context.Context, intentID uuid.UUID, errorCode, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE upload_intents SET status = $1, error_code = $2, error_message = $3 WHERE id = $4
	`, models.IntentFailed, errorCode, errorMessage, intentID)
	if err != nil {
		return fmt.Errorf("fail upload intent: %w", err)
	}
	return nil
}

// MarkExpired transitions the intent to expired (spec section 4.2 step 2).
func (r *UploadIntentRepository) MarkExpired(ctx context.Context, intentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE upload_intents SET status = $1 WHERE id = $2`, models.IntentExpired, intentID)
	if err != nil {
		return fmt.Errorf("mark upload intent expired: %w", err)
	}
	return nil
}
