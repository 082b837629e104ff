package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxRecordingSize    = 50 * 1024 * 1024
	recordingPathPrefix = "recordings"
	presignedURLTTL     = 15 * time.Minute
)

var (
	ErrRecordingTooBig       = errors.New("recording exceeds 50MB limit")
	ErrInvalidRecordingType  = errors.New("invalid recording type, only MP3 and MP4 are allowed")
	ErrRecordingUploadFailed = errors.New("failed to upload recording")
	ErrRecordingURLFailed    = errors.New("failed to generate recording URL")

	allowedRecordingTypes = map[string]struct{}{
		"audio/mpeg": {},
		"video/mp4":  {},
	}
)

// RecordingStorage keeps call recordings and generated media in object
// storage and hands out short-lived presigned URLs for delivery.
type RecordingStorage interface {
	UploadRecording(ctx context.Context, orderPublicID string, file io.Reader, size int64, contentType string) (string, error)
	PresignRecordingURL(ctx context.Context, objectKey string) (string, error)
}

type MinIORecordingStorage struct {
	client     *minio.Client
	bucketName string
}

func NewMinIORecordingStorage(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIORecordingStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	svc := &MinIORecordingStorage{client: client, bucketName: bucketName}
	if err := svc.ensureBucketExists(context.Background()); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *MinIORecordingStorage) ensureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIORecordingStorage) UploadRecording(ctx context.Context, orderPublicID string, file io.Reader, size int64, contentType string) (string, error) {
	if size > maxRecordingSize {
		return "", ErrRecordingTooBig
	}
	if _, ok := allowedRecordingTypes[contentType]; !ok {
		return "", ErrInvalidRecordingType
	}
	ext := ".mp3"
	if contentType == "video/mp4" {
		ext = ".mp4"
	}
	objectKey := fmt.Sprintf("%s/%s/%s%s", recordingPathPrefix, orderPublicID, uuid.NewString(), ext)
	_, err := s.client.PutObject(ctx, s.bucketName, objectKey, file, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecordingUploadFailed, err)
	}
	return objectKey, nil
}

func (s *MinIORecordingStorage) PresignRecordingURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, presignedURLTTL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecordingURLFailed, err)
	}
	return u.String(), nil
}

// NoopRecordingStorage stands in when no object store is configured: uploads
// are rejected and presigning returns the key unchanged.
type NoopRecordingStorage struct{}

func (NoopRecordingStorage) UploadRecording(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", ErrRecordingUploadFailed
}

func (NoopRecordingStorage) PresignRecordingURL(_ context.Context, objectKey string) (string, error) {
	return objectKey, nil
}
