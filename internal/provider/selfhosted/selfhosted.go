// Package selfhosted implements internal/provider.Provider against a local
// Postgres+pgvector store, grounded on the retrieval pack's face-indexing
// worker (other_examples' face_worker.go), which stores 512-d embeddings
// via github.com/pgvector/pgvector-go and searches them with the <=>
// cosine-distance operator. "Collections" here are modeled as a partition
// key (collection_id column) on a single collection_faces table rather than a
// provider-side namespace, since a self-hosted store has no separate
// collection resource to create.
package selfhosted

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/provider"
)

const providerName = provider.NameSelfHosted

// Detector is the local face-detection/embedding model this provider calls
// out to. It is the "face-recognition engine's internal algorithms" the
// core spec explicitly treats as a black box (spec section 1 Non-goals);
// this package only wires its output into the collection/index/search
// contract.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]DetectedFace, error)
}

// DetectedFace is one face the Detector found, with its embedding.
type DetectedFace struct {
	BoundingBox provider.BoundingBox
	Confidence  float64 // 0..1
	Embedding   []float32
}

// Provider is the self-hosted pgvector-backed implementation.
type Provider struct {
	db       *sqlx.DB
	detector Detector
}

// New creates a self-hosted provider over db's collection_faces table.
func New(db *sqlx.DB, detector Detector) *Provider {
	return &Provider{db: db, detector: detector}
}

// CreateCollection is a no-op: the self-hosted store has no separate
// collection resource, only a partition key on an existing table. Treated
// as always succeeding, matching the idempotent-create contract.
func (p *Provider) CreateCollection(ctx context.Context, collectionID string) error {
	return nil
}

// DeleteCollection removes every collection_faces row for collectionID.
// Deleting zero rows is success, matching ResourceNotFoundException's
// idempotent-success mapping in the managed provider.
func (p *Provider) DeleteCollection(ctx context.Context, collectionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM collection_faces WHERE collection_id = $1`, collectionID)
	if err != nil {
		return classify.Retryable("database", string(providerName), fmt.Errorf("delete collection: %w", err))
	}
	return nil
}

// IndexFaces runs the local detector and persists each detected face's
// embedding under collectionID.
func (p *Provider) IndexFaces(ctx context.Context, collectionID string, imageBytes []byte, externalImageID string, opts provider.Options) (*provider.IndexResult, error) {
	detected, err := p.detector.Detect(ctx, imageBytes)
	if err != nil {
		return nil, classify.Retryable("detector", string(providerName), fmt.Errorf("detect faces: %w", err))
	}

	result := &provider.IndexResult{ModelVersion: "selfhosted-v1"}
	maxFaces := opts.MaxFaces
	if maxFaces <= 0 {
		maxFaces = len(detected)
	}

	for i, face := range detected {
		if i >= maxFaces {
			result.UnindexedFaces = append(result.UnindexedFaces, provider.UnindexedFace{
				Reason:      "max_faces_exceeded",
				BoundingBox: face.BoundingBox,
			})
			continue
		}

		faceID := uuid.NewString()
		vec := pgvector.NewVector(face.Embedding)
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO collection_faces (face_id, collection_id, external_image_id, bbox_width, bbox_height, bbox_left, bbox_top, confidence, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, faceID, collectionID, externalImageID,
			face.BoundingBox.Width, face.BoundingBox.Height, face.BoundingBox.Left, face.BoundingBox.Top,
			face.Confidence, vec)
		if err != nil {
			return nil, classify.Retryable("database", string(providerName), fmt.Errorf("persist face: %w", err))
		}

		result.FaceRecords = append(result.FaceRecords, provider.FaceRecord{
			FaceID:          faceID,
			BoundingBox:     face.BoundingBox,
			Confidence:      face.Confidence,
			ExternalImageID: externalImageID,
			Embedding:       face.Embedding,
		})
	}

	return result, nil
}

// SearchFacesByImage detects faces in imageBytes and finds the nearest
// neighbors in collectionID by cosine distance.
func (p *Provider) SearchFacesByImage(ctx context.Context, collectionID string, imageBytes []byte, maxResults int, minSimilarity float64) ([]provider.FaceMatch, error) {
	detected, err := p.detector.Detect(ctx, imageBytes)
	if err != nil {
		return nil, classify.Retryable("detector", string(providerName), fmt.Errorf("detect faces: %w", err))
	}
	if len(detected) == 0 {
		return nil, nil
	}

	query := pgvector.NewVector(detected[0].Embedding)
	rows, err := p.db.QueryContext(ctx, `
		SELECT face_id, external_image_id, 1 - (embedding <=> $1) AS similarity
		FROM collection_faces
		WHERE collection_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, query, collectionID, maxResults)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify.Retryable("database", string(providerName), fmt.Errorf("search faces: %w", err))
	}
	defer rows.Close()

	var matches []provider.FaceMatch
	for rows.Next() {
		var m provider.FaceMatch
		if err := rows.Scan(&m.FaceID, &m.ExternalImageID, &m.Similarity); err != nil {
			return nil, classify.Retryable("database", string(providerName), fmt.Errorf("scan face match: %w", err))
		}
		if m.Similarity >= minSimilarity {
			matches = append(matches, m)
		}
	}
	return matches, rows.Err()
}
