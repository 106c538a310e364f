package dsr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArtifactStore keeps completed export payloads in R2/S3-compatible
// object storage so operators can hand out presigned download links
// without going through the API database.
type S3ArtifactStore struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	urlExpiry     time.Duration
}

// S3ArtifactStoreConfig holds configuration for the artifact store.
type S3ArtifactStoreConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	URLExpiryMinutes int // Default: 15 minutes
}

// NewS3ArtifactStore creates an artifact store against an R2-compatible
// endpoint.
func NewS3ArtifactStore(cfg S3ArtifactStoreConfig) (*S3ArtifactStore, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.URLExpiryMinutes <= 0 {
		cfg.URLExpiryMinutes = 15
	}

	// R2-compatible configuration: auto region, path-style addressing.
	s3Client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3ArtifactStore{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    cfg.BucketName,
		urlExpiry:     time.Duration(cfg.URLExpiryMinutes) * time.Minute,
	}, nil
}

// ObjectKey returns the bucket key for a request's export artifact.
func ObjectKey(requestID string) string {
	return fmt.Sprintf("exports/%s.json", requestID)
}

// Put uploads an export payload and returns its object key.
func (s *S3ArtifactStore) Put(ctx context.Context, requestID string, payload []byte) (string, error) {
	key := ObjectKey(requestID)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export artifact: %w", err)
	}
	return key, nil
}

// PresignDownload returns a time-limited GET URL for an artifact.
func (s *S3ArtifactStore) PresignDownload(ctx context.Context, requestID string) (string, time.Time, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(ObjectKey(requestID)),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign artifact download: %w", err)
	}
	return req.URL, time.Now().Add(s.urlExpiry), nil
}

// Delete removes an artifact. Used by the expired-export cleanup policy;
// deleting an absent object is a no-op at the store.
func (s *S3ArtifactStore) Delete(ctx context.Context, requestID string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(ObjectKey(requestID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete export artifact: %w", err)
	}
	return nil
}
