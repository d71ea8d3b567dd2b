package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"cadbridge/pkg/client/s3"

	"github.com/minio/minio-go/v7"
)

// ModelStore holds the uploaded CAD/BIM artifacts. The external translation
// service reads them through presigned URLs; they are retained for audit as
// long as the referencing job exists.
type ModelStore struct {
	Storage *s3.StorageS3
}

func NewModelStore(storage *s3.StorageS3) *ModelStore {
	return &ModelStore{Storage: storage}
}

func (s *ModelStore) Upload(ctx context.Context, key string, file []byte) error {
	if s.Storage == nil || s.Storage.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}

	reader := bytes.NewReader(file)
	fileSize := int64(len(file))

	_, err := s.Storage.Client.PutObject(
		ctx,
		s.Storage.Bucket,
		key,
		reader,
		fileSize,
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		},
	)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}

	return nil
}

func (s *ModelStore) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.Storage == nil || s.Storage.Client == nil {
		return "", fmt.Errorf("s3 client not initialized")
	}

	reqParams := url.Values{}

	presignedURL, err := s.Storage.Client.PresignedGetObject(ctx, s.Storage.Bucket, key, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return presignedURL.String(), nil
}
