package queue

import "github.com/google/uuid"

// ObjectEvent is the object-store notification consumed by the Upload
// Processor (spec section 6.1). Only PutObject/CompleteMultipartUpload on
// keys with prefix "uploads/" are processed; everything else is
// acknowledged without side effects.
type ObjectEvent struct {
	Action string `json:"action"`
	Bucket string `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	} `json:"object"`
	EventTime string `json:"eventTime"`
}

// PhotoJob is enqueued by the Upload Processor and consumed by the Index
// Processor (spec section 6.2).
type PhotoJob struct {
	PhotoID uuid.UUID `json:"photo_id"`
	EventID uuid.UUID `json:"event_id"`
	R2Key   string    `json:"r2_key"`
}

// CleanupJob is enqueued by the scheduled scan and consumed by the Cleanup
// Engine's reconciler (spec section 6.3).
type CleanupJob struct {
	EventID      uuid.UUID `json:"event_id"`
	CollectionID *string   `json:"collection_id,omitempty"`
}

const (
	StreamUploadsNotify = "uploads-notify"
	StreamPhotoIndexing = "photo-indexing"
	StreamEventCleanup  = "event-cleanup"

	GroupUploadProcessor = "upload-processor"
	GroupIndexProcessor  = "index-processor"
	GroupCleanupEngine   = "cleanup-engine"
)
