package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// Set GCS_CREDENTIALS_JSON to provide explicit JSON (e.g. locally).
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSBlobStore keeps proof-of-payment images in one bucket.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

func NewGCSBlobStore(ctx context.Context) (*GCSBlobStore, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSBlobStore{client: client, bucket: bucketName}, nil
}

// Upload writes data under objectKey and returns the access URL stored on the record.
func (s *GCSBlobStore) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	wc := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}
	return BuildObjectAccessURL(objectKey), nil
}

// Delete removes the object behind ref. A missing object is not an error.
func (s *GCSBlobStore) Delete(ctx context.Context, ref string) error {
	objectKey := ExtractObjectKeyFromURL(ref)
	if objectKey == "" {
		return fmt.Errorf("cannot resolve object key from %q", ref)
	}
	err := s.client.Bucket(s.bucket).Object(objectKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
