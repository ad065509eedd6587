// Package rekognition implements internal/provider.Provider against AWS
// Rekognition, sharing the same AWS SDK v2 family and credentials chain the
// teacher already uses for S3 (spec section 9: "cloud managed" provider).
package rekognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/provider"
)

// Provider wraps an AWS Rekognition client.
type Provider struct {
	client *rekognition.Client
}

// Config carries the credentials Rekognition needs; reuses the same
// account's access key pair as the object store where both are AWS.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// New creates a Rekognition-backed provider.
func New(cfg Config) *Provider {
	client := rekognition.New(rekognition.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})
	return &Provider{client: client}
}

// CreateCollection calls CreateCollection, treating
// ResourceAlreadyExistsException as success (spec section 6.4).
func (p *Provider) CreateCollection(ctx context.Context, collectionID string) error {
	_, err := p.client.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	if err == nil {
		return nil
	}
	if isAPIError[*types.ResourceAlreadyExistsException](err) {
		return nil
	}
	return classifyErr(err)
}

// DeleteCollection calls DeleteCollection, treating
// ResourceNotFoundException as success (spec section 6.4).
func (p *Provider) DeleteCollection(ctx context.Context, collectionID string) error {
	_, err := p.client.DeleteCollection(ctx, &rekognition.DeleteCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	if err == nil {
		return nil
	}
	if isAPIError[*types.ResourceNotFoundException](err) {
		return nil
	}
	return classifyErr(err)
}

// IndexFaces calls IndexFaces and normalizes the response.
func (p *Provider) IndexFaces(ctx context.Context, collectionID string, imageBytes []byte, externalImageID string, opts provider.Options) (*provider.IndexResult, error) {
	qualityFilter := types.QualityFilterAuto
	if opts.QualityFilter == "none" {
		qualityFilter = types.QualityFilterNone
	}

	maxFaces := int32(opts.MaxFaces)
	out, err := p.client.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:    aws.String(collectionID),
		Image:           &types.Image{Bytes: imageBytes},
		ExternalImageId: aws.String(externalImageID),
		MaxFaces:        aws.Int32(maxFaces),
		QualityFilter:   qualityFilter,
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	result := &provider.IndexResult{}
	for _, rec := range out.FaceRecords {
		if rec.Face == nil {
			continue
		}
		bbox := provider.BoundingBox{}
		if rec.Face.BoundingBox != nil {
			bbox = provider.BoundingBox{
				Width:  float64(aws.ToFloat32(rec.Face.BoundingBox.Width)),
				Height: float64(aws.ToFloat32(rec.Face.BoundingBox.Height)),
				Left:   float64(aws.ToFloat32(rec.Face.BoundingBox.Left)),
				Top:    float64(aws.ToFloat32(rec.Face.BoundingBox.Top)),
			}
		}
		result.FaceRecords = append(result.FaceRecords, provider.FaceRecord{
			FaceID:          aws.ToString(rec.Face.FaceId),
			BoundingBox:     bbox,
			Confidence:      float64(aws.ToFloat32(rec.Face.Confidence)) / 100.0,
			ExternalImageID: aws.ToString(rec.Face.ExternalImageId),
		})
	}
	for _, unindexed := range out.UnindexedFaces {
		bbox := provider.BoundingBox{}
		if unindexed.FaceDetail != nil && unindexed.FaceDetail.BoundingBox != nil {
			b := unindexed.FaceDetail.BoundingBox
			bbox = provider.BoundingBox{
				Width:  float64(aws.ToFloat32(b.Width)),
				Height: float64(aws.ToFloat32(b.Height)),
				Left:   float64(aws.ToFloat32(b.Left)),
				Top:    float64(aws.ToFloat32(b.Top)),
			}
		}
		reason := ""
		if len(unindexed.Reasons) > 0 {
			reason = string(unindexed.Reasons[0])
		}
		result.UnindexedFaces = append(result.UnindexedFaces, provider.UnindexedFace{
			Reason:      reason,
			BoundingBox: bbox,
		})
	}
	result.ModelVersion = aws.ToString(out.FaceModelVersion)

	return result, nil
}

// SearchFacesByImage calls SearchFacesByImage and normalizes similarity to
// 0..1. Used by search features outside this core; implemented here only
// because both providers share the same abstraction.
func (p *Provider) SearchFacesByImage(ctx context.Context, collectionID string, imageBytes []byte, maxResults int, minSimilarity float64) ([]provider.FaceMatch, error) {
	out, err := p.client.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(collectionID),
		Image:              &types.Image{Bytes: imageBytes},
		MaxFaces:           aws.Int32(int32(maxResults)),
		FaceMatchThreshold: aws.Float32(float32(minSimilarity * 100.0)),
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	matches := make([]provider.FaceMatch, 0, len(out.FaceMatches))
	for _, m := range out.FaceMatches {
		if m.Face == nil {
			continue
		}
		matches = append(matches, provider.FaceMatch{
			FaceID:          aws.ToString(m.Face.FaceId),
			Similarity:      float64(aws.ToFloat32(m.Similarity)) / 100.0,
			ExternalImageID: aws.ToString(m.Face.ExternalImageId),
		})
	}
	return matches, nil
}

func isAPIError[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// classifyErr maps Rekognition's exception types to the pipeline's
// discriminated result (spec section 4.5).
func classifyErr(err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return classify.Throttle("throttling", string(providerName), err)
	}
	var provisionedThroughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &provisionedThroughput) {
		return classify.Throttle("provisioned_throughput_exceeded", string(providerName), err)
	}
	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return classify.Terminal("invalid_parameter", string(providerName), err)
	}
	var invalidImageFormat *types.InvalidImageFormatException
	if errors.As(err, &invalidImageFormat) {
		return classify.Terminal("invalid_image_format", string(providerName), err)
	}
	var accessDenied *types.AccessDeniedException
	if errors.As(err, &accessDenied) {
		return classify.Terminal("access_denied", string(providerName), err)
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return classify.IdempotentSuccess("resource_not_found", string(providerName))
	}
	var alreadyExists *types.ResourceAlreadyExistsException
	if errors.As(err, &alreadyExists) {
		return classify.IdempotentSuccess("resource_already_exists", string(providerName))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classify.Retryable(apiErr.ErrorCode(), string(providerName), err)
	}

	return classify.Retryable("unknown", string(providerName), fmt.Errorf("rekognition: %w", err))
}

const providerName = provider.NameRekognition
