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

// CreditLedgerRepository implements the FIFO-expiration ledger (spec
// sections 3, 4.2 step 9, 8): balance is the sum of unexpired entries, and
// a debit always inherits the expiresAt of the oldest unexpired positive
// entry, never its own independent expiry.
type CreditLedgerRepository struct {
	db *database.DB
}

func NewCreditLedgerRepository(db *database.DB) *CreditLedgerRepository {
	return &CreditLedgerRepository{db: db}
}

// Balance sums unexpired ledger entries for photographerID as of now.
func (r *CreditLedgerRepository) Balance(ctx context.Context, tx *sqlx.Tx, photographerID uuid.UUID, now time.Time) (int, error) {
	var balance sql.NullInt64
	err := tx.GetContext(ctx, &balance, `
		SELECT SUM(amount) FROM credit_ledger WHERE photographer_id = $1 AND expires_at > $2
	`, photographerID, now)
	if err != nil {
		return 0, fmt.Errorf("compute balance: %w", err)
	}
	if !balance.Valid {
		return 0, nil
	}
	return int(balance.Int64), nil
}

// OldestUnexpiredCredit returns the positive, unexpired ledger entry with
// the earliest expires_at — the entry a debit must be issued against under
// the FIFO-expiration policy.
func (r *CreditLedgerRepository) OldestUnexpiredCredit(ctx context.Context, tx *sqlx.Tx, photographerID uuid.UUID, now time.Time) (*models.CreditLedger, error) {
	var entry models.CreditLedger
	err := tx.GetContext(ctx, &entry, `
		SELECT id, photographer_id, amount, type, source, expires_at, created_at
		FROM credit_ledger
		WHERE photographer_id = $1 AND expires_at > $2 AND amount > 0
		ORDER BY expires_at ASC
		LIMIT 1
	`, photographerID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select oldest unexpired credit: %w", err)
	}
	return &entry, nil
}

// InsertDebit appends a debit entry inheriting expiresAt from the consumed
// credit entry, preserving its lifetime semantics.
func (r *CreditLedgerRepository) InsertDebit(ctx context.Context, tx *sqlx.Tx, photographerID uuid.UUID, expiresAt time.Time, source string) (*models.CreditLedger, error) {
	entry := &models.CreditLedger{
		ID:             uuid.New(),
		PhotographerID: photographerID,
		Amount:         -1,
		Type:           models.LedgerDebit,
		Source:         source,
		ExpiresAt:      expiresAt,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, photographer_id, amount, type, source, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, entry.ID, entry.PhotographerID, entry.Amount, entry.Type, entry.Source, entry.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert debit: %w", err)
	}
	return entry, nil
}
