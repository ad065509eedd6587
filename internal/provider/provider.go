// Package provider defines the face-recognition provider interface (spec
// section 6.4) the Index Processor and Cleanup Engine depend on. Two
// conforming implementations live in provider/rekognition and
// provider/selfhosted; callers must treat them as interchangeable, and both
// normalize confidence to 0..1 before it leaves the adapter (spec section
// 9 Design Notes).
package provider

import (
	"context"
)

// BoundingBox mirrors the provider's native ratio-based box, already
// normalized to 0..1 on each side.
type BoundingBox struct {
	Width  float64
	Height float64
	Left   float64
	Top    float64
}

// FaceRecord is one face the provider detected and indexed.
type FaceRecord struct {
	FaceID          string
	BoundingBox     BoundingBox
	Confidence      float64 // normalized to 0..1
	ExternalImageID string
	Embedding       []float32 // set only by the self-hosted provider
}

// UnindexedFace is a detected-but-not-indexed face (e.g. too low quality).
type UnindexedFace struct {
	Reason      string
	BoundingBox BoundingBox
}

// IndexResult is the response to indexFaces.
type IndexResult struct {
	FaceRecords    []FaceRecord
	UnindexedFaces []UnindexedFace
	ModelVersion   string
}

// FaceMatch is one candidate from searchFacesByImage.
type FaceMatch struct {
	FaceID          string
	Similarity      float64 // normalized to 0..1
	ExternalImageID string
}

// Options tunes indexing/search calls (spec section 6.6:
// MAX_FACES_PER_IMAGE, QUALITY_FILTER).
type Options struct {
	MaxFaces      int
	QualityFilter string
}

// Provider is the black-box face-recognition collaborator. Implementations
// return *classify.Error so callers get a uniform retry/throttle/terminal
// classification regardless of the underlying SDK.
type Provider interface {
	CreateCollection(ctx context.Context, collectionID string) error
	DeleteCollection(ctx context.Context, collectionID string) error
	IndexFaces(ctx context.Context, collectionID string, imageBytes []byte, externalImageID string, opts Options) (*IndexResult, error)
	SearchFacesByImage(ctx context.Context, collectionID string, imageBytes []byte, maxResults int, minSimilarity float64) ([]FaceMatch, error)
}

// Name identifies which provider implementation classified an error, used
// to populate photos.error_name.
type Name string

const (
	NameRekognition Name = "rekognition"
	NameSelfHosted  Name = "selfhosted"
)

