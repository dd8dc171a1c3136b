package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

// ObjectStore is the subset of *s3.Client the archive uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive writes run records as JSON objects.
type S3Archive struct {
	client ObjectStore
	bucket string
	prefix string
}

// NewS3Archive creates an archive in bucket under prefix.
func NewS3Archive(client ObjectStore, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// Archive saves the run and its results and returns the s3:// URI.
func (s *S3Archive) Archive(ctx context.Context, run *runstore.Run, results []dispatch.SendResult) (string, error) {
	jsonData, err := json.MarshalIndent(Record{Run: run, Results: results}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling run %s: %w", run.ID, err)
	}

	key := runKey(s.prefix, run)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3 bucket %s: %w", s.bucket, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Load reads an archived run by key.
func (s *S3Archive) Load(ctx context.Context, key string) (*Record, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, key)
		}
		return nil, fmt.Errorf("getting object from S3 bucket %s: %w", s.bucket, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return &rec, nil
}
