// Package models holds the persisted entities the pipeline reads and writes.
// Column names follow the contracts in spec section 6.5.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Photographer is the account holder the core validates and debits against.
// The account subsystem owns creation/ban/delete; the core only reads it and
// writes ledger entries.
type Photographer struct {
	ID        uuid.UUID  `db:"id"`
	BannedAt  *time.Time `db:"banned_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Event is a collection context: one face-provider collection per event,
// created lazily on first successful index and torn down by cleanup.
type Event struct {
	ID             uuid.UUID  `db:"id"`
	PhotographerID uuid.UUID  `db:"photographer_id"`
	ExpiresAt      time.Time  `db:"expires_at"`
	CollectionID   *string    `db:"collection_id"`
	CreatedAt      time.Time  `db:"created_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

// UploadIntentStatus is the terminal/non-terminal state machine of an intent.
type UploadIntentStatus string

const (
	IntentPending    UploadIntentStatus = "pending"
	IntentProcessing UploadIntentStatus = "processing"
	IntentCompleted  UploadIntentStatus = "completed"
	IntentFailed     UploadIntentStatus = "failed"
	IntentExpired    UploadIntentStatus = "expired"
)

// UploadIntent reserves a future upload's identity, created at presign time
// (presign issuance itself is out of this core's scope).
type UploadIntent struct {
	ID                    uuid.UUID          `db:"id"`
	PhotographerID        uuid.UUID          `db:"photographer_id"`
	EventID               uuid.UUID          `db:"event_id"`
	R2Key                 string             `db:"r2_key"`
	ExpectedContentType   string             `db:"content_type"`
	ExpectedContentLength int64              `db:"content_length"`
	Status                UploadIntentStatus `db:"status"`
	Retryable             *bool              `db:"retryable"`
	ErrorCode             *string            `db:"error_code"`
	ErrorMessage          *string            `db:"error_message"`
	PhotoID               *uuid.UUID         `db:"photo_id"`
	CreatedAt             time.Time          `db:"created_at"`
	ExpiresAt             time.Time          `db:"expires_at"`
	CompletedAt           *time.Time         `db:"completed_at"`
}

// PhotoStatus tracks a photo through normalization and indexing.
type PhotoStatus string

const (
	PhotoUploading PhotoStatus = "uploading"
	PhotoIndexing  PhotoStatus = "indexing"
	PhotoIndexed   PhotoStatus = "indexed"
	PhotoFailed    PhotoStatus = "failed"
)

// Photo is a persisted, normalized image.
type Photo struct {
	ID                uuid.UUID   `db:"id"`
	EventID           uuid.UUID   `db:"event_id"`
	R2Key             string      `db:"r2_key"`
	Status            PhotoStatus `db:"status"`
	FaceCount         int         `db:"face_count"`
	Retryable         *bool       `db:"retryable"`
	ErrorName         *string     `db:"error_name"`
	Width             int         `db:"width"`
	Height            int         `db:"height"`
	FileSize          int64       `db:"file_size"`
	OriginalMimeType  string      `db:"original_mime_type"`
	OriginalFileSize  int64       `db:"original_file_size"`
	IndexedAt         *time.Time  `db:"indexed_at"`
	DeletedAt         *time.Time  `db:"deleted_at"`
	CreatedAt         time.Time   `db:"created_at"`
}

// BoundingBox expresses a face's position as ratios of the image's
// dimensions, each in 0..1.
type BoundingBox struct {
	Width  float64 `db:"width" json:"width"`
	Height float64 `db:"height" json:"height"`
	Left   float64 `db:"left" json:"left"`
	Top    float64 `db:"top" json:"top"`
}

// Face is a single detected-face record, created by the Index Processor in
// the same transaction as the owning photo's status flip.
type Face struct {
	ID             uuid.UUID   `db:"id"`
	PhotoID        uuid.UUID   `db:"photo_id"`
	EventID        uuid.UUID   `db:"event_id"`
	ProviderFaceID string      `db:"provider_face_id"`
	BoundingBox    BoundingBox `db:"bounding_box"`
	Confidence     float64     `db:"confidence"`
	Embedding      []float32   `db:"embedding"`
	CreatedAt      time.Time   `db:"created_at"`
}

// LedgerEntryType distinguishes credit grants from the debits the Upload
// Processor issues.
type LedgerEntryType string

const (
	LedgerCredit LedgerEntryType = "credit"
	LedgerDebit  LedgerEntryType = "debit"
)

// CreditLedger is an append-only entry. The sum of unexpired entries for a
// photographer equals their effective balance; nothing is ever deleted or
// rewritten in place.
type CreditLedger struct {
	ID             uuid.UUID       `db:"id"`
	PhotographerID uuid.UUID       `db:"photographer_id"`
	Amount         int             `db:"amount"`
	Type           LedgerEntryType `db:"type"`
	Source         string          `db:"source"`
	ExpiresAt      time.Time       `db:"expires_at"`
	CreatedAt      time.Time       `db:"created_at"`
}
