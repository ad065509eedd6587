package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/models"
)

// ErrInsufficientCredits is returned by DebitAndPersistPhoto when the
// photographer has no unexpired positive ledger balance (spec section 4.2
// step 9).
var ErrInsufficientCredits = errors.New("insufficient credits")

// UploadStore is the narrow transactional dependency the Upload Processor
// needs: atomically lock the photographer, debit one FIFO credit, persist
// the photo, and complete the intent — all inside a single DB transaction
// (spec section 4.2 step 9, section 8 "Photo creation atomicity"). Kept as
// one interface method so tests can fake the whole atomic operation
// in-memory instead of simulating SQL row locks.
type UploadStore interface {
	DebitAndPersistPhoto(ctx context.Context, photographerID uuid.UUID, now time.Time, photo *models.Photo, intentID uuid.UUID) error
}

// TransactionalUploadStore is the real implementation, grounded on the
// teacher's VoteWithToggle transaction shape (begin tx, defer rollback,
// conditional writes, commit) generalized to the credit-debit + photo
// insert + intent completion this spec requires, and on
// KuanyshMaral-mwork-backend's credit.Repository.DeductTx row-locking
// pattern.
type TransactionalUploadStore struct {
	db            *database.DB
	photographers *PhotographerRepository
	ledger        *CreditLedgerRepository
	photos        *PhotoRepository
	intents       *UploadIntentRepository
}

func NewTransactionalUploadStore(db *database.DB, photographers *PhotographerRepository,
	ledger *CreditLedgerRepository, photos *PhotoRepository, intents *UploadIntentRepository) *TransactionalUploadStore {
	return &TransactionalUploadStore{
		db: db, photographers: photographers, ledger: ledger, photos: photos, intents: intents,
	}
}

func (s *TransactionalUploadStore) DebitAndPersistPhoto(ctx context.Context, photographerID uuid.UUID, now time.Time, photo *models.Photo, intentID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		photographer, err := s.photographers.LockForUpdate(ctx, tx, photographerID)
		if err != nil {
			return err
		}
		if photographer == nil {
			return fmt.Errorf("photographer %s not found", photographerID)
		}

		balance, err := s.ledger.Balance(ctx, tx, photographerID, now)
		if err != nil {
			return err
		}
		if balance < 1 {
			return ErrInsufficientCredits
		}

		oldest, err := s.ledger.OldestUnexpiredCredit(ctx, tx, photographerID, now)
		if err != nil {
			return err
		}
		if oldest == nil {
			return ErrInsufficientCredits
		}

		if _, err := s.ledger.InsertDebit(ctx, tx, photographerID, oldest.ExpiresAt, "upload"); err != nil {
			return err
		}
		if err := s.photos.Create(ctx, tx, photo); err != nil {
			return err
		}
		return s.intents.CompleteWithPhoto(ctx, tx, intentID, photo.ID, now)
	})
}
