package rawarchive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores archives in a bucket with a create-only precondition.
type S3Sink struct {
	client S3API
	bucket string
	logger *slog.Logger
}

// NewS3Sink creates an S3Sink for bucket.
func NewS3Sink(client S3API, bucket string, logger *slog.Logger) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, logger: logger}
}

// WriteRaw uploads the archive and returns its key.
func (s *S3Sink) WriteRaw(ctx context.Context, a domain.RawArchive) (string, error) {
	key := Key(a)
	body, err := Encode(a)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		IfNoneMatch:     aws.String("*"),
		Metadata: map[string]string{
			"ingestion-id": a.IngestionID,
			"location":     a.Location,
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return key, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrAlreadyExists)
		}
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Debug("raw archive stored", "bucket", s.bucket, "key", key, "bytes", len(body))
	return key, nil
}
