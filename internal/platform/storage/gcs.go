package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCSStore keeps objects in a Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore constructs a store backed by the provided Cloud Storage client.
func NewGCSStore(client *gcs.Client, bucket string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Write uploads body to path, replacing any existing object.
func (s *GCSStore) Write(ctx context.Context, path string, contentType string, body io.Reader) error {
	key, err := cleanPath(path)
	if err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (s *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	key, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gcs.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
}

// Open streams the object at path.
func (s *GCSStore) Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error) {
	key, err := cleanPath(path)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("storage: open %s: %w", key, err)
	}
	info := ObjectInfo{
		Path:        key,
		ContentType: r.Attrs.ContentType,
		Size:        r.Attrs.Size,
		UpdatedAt:   r.Attrs.LastModified,
	}
	return r, info, nil
}
