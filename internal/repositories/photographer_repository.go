// Package repositories holds per-entity SQL access, following the
// teacher's repository shape: a typed struct wrapping *database.DB, plain
// SQL with explicit placeholders, sqlx struct scanning, sql.ErrNoRows
// mapped to a nil result.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// PhotographerRepository reads photographer state and locks the row for
// the credit-debit transaction (spec section 4.2 step 9, section 5).
type PhotographerRepository struct {
	db *database.DB
}

func NewPhotographerRepository(db *database.DB) *PhotographerRepository {
	return &PhotographerRepository{db: db}
}

// LockForUpdate acquires a SELECT ... FOR UPDATE row lock on the
// photographer within tx, held for the rest of the transaction's body.
func (r *PhotographerRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, photographerID uuid.UUID) (*models.Photographer, error) {
	var p models.Photographer
	err := tx.GetContext(ctx, &p, `
		SELECT id, banned_at, deleted_at FROM photographers WHERE id = $1 FOR UPDATE
	`, photographerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock photographer: %w", err)
	}
	return &p, nil
}
