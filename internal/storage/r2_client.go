// Package storage wraps the object store the pipeline treats as an external
// collaborator (spec section 2): raw uploads under uploads/{id}, normalized
// photos under {eventId}/{photoId}.jpg. Presigned-URL issuance lives outside
// this core (spec section 1 Non-goals); only HEAD/GET/PUT/DELETE are
// exercised by the Upload and Index Processors.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the narrow interface the pipeline depends on, letting
// tests substitute an in-memory fake instead of a real S3/R2 client.
type ObjectStore interface {
	HeadObject(ctx context.Context, key string) (size int64, err error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// R2Client wraps the S3-compatible client for Cloudflare R2.
type R2Client struct {
	client     *s3.Client
	bucketName string
	publicURL  string
}

// Config carries the credentials and bucket R2Client needs. Loaded by
// internal/config, not read from the environment directly here.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// NewR2Client creates a new R2 storage client from explicit config.
func NewR2Client(cfg Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("missing R2 configuration")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})

	return &R2Client{
		client:     client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// HeadObject returns the object's size without downloading its body, used
// by the Upload Processor's size gate (spec section 4.2 step 3).
func (r *R2Client) HeadObject(ctx context.Context, key string) (int64, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object: %w", err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// GetObject retrieves an object's full bytes.
func (r *R2Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// PutObject uploads an object.
func (r *R2Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// DeleteObject deletes an object. Used for the best-effort cleanup of the
// original upload after normalization (spec section 4.2 step 10) and for
// post-failure cleanup (spec section 7).
func (r *R2Client) DeleteObject(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	return err
}

// PublicURL returns the public URL for an uploaded file, used by surfaces
// outside this core that display photos.
func (r *R2Client) PublicURL(key string) string {
	if r.publicURL != "" {
		return fmt.Sprintf("%s/%s", r.publicURL, key)
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s/%s", "", r.bucketName, key)
}
