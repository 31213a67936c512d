package scorestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"praiafinder/internal/types"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the snapshot as one object. PutObject replaces the object
// atomically from a reader's point of view.
type S3Store struct {
	client S3API
	bucket string
	key    string
}

func NewS3Store(client S3API, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

func (s *S3Store) Name() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Store) Load(ctx context.Context) ([]types.ScoreRecord, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", s.Name(), ErrSnapshotMissing)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to fetch %s", s.Name()), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to read %s", s.Name()), err)
	}
	return Decode(data)
}

func (s *S3Store) Save(ctx context.Context, records []types.ScoreRecord) error {
	data, err := Encode(s.key, records)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to encode snapshot", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if isCompressed(s.key) {
		input.ContentType = aws.String("application/zstd")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to write %s", s.Name()), err)
	}
	return nil
}
