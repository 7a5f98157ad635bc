package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/models"
)

const sha256MetadataKey = "sha256"

// GCSStore keeps content as objects in one bucket. Objects are never
// overwritten; a repeated Put of the same name reports the existing object.
type GCSStore struct {
	client     *storage.Client
	bucket     string
	prefix     string
	maxRetries int
	backoff    time.Duration
}

// NewGCSStore returns a store writing under gs://bucket/prefix.
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStore: bucket cannot be empty")
	}
	return &GCSStore{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		maxRetries: 4,
		backoff:    time.Second,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, name string, data []byte, contentType string) (models.ContentRef, error) {
	objectName := path.Join(s.prefix, name)
	sum := Hash(data)
	bucket := s.client.Bucket(s.bucket)
	backoff := s.backoff
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		created, err := func() (bool, error) {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			return gcp.SaveToGCSAtomically(writeCtx, bucket, objectName, data, contentType, map[string]string{sha256MetadataKey: sum})
		}()
		if err == nil {
			if !created {
				return s.existingRef(ctx, objectName)
			}
			return models.ContentRef{URI: s.uri(objectName), SHA256: sum, Size: int64(len(data))}, nil
		}
		lastErr = err
		if !gcp.IsTransient(err) {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return models.ContentRef{}, ctx.Err()
		}
	}
	return models.ContentRef{}, fmt.Errorf("upload for %s failed: %w", objectName, lastErr)
}

func (s *GCSStore) existingRef(ctx context.Context, objectName string) (models.ContentRef, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(objectName).Attrs(ctx)
	if err != nil {
		return models.ContentRef{}, fmt.Errorf("failed to read attrs of existing object %s: %w", objectName, err)
	}
	return models.ContentRef{
		URI:    s.uri(objectName),
		SHA256: attrs.Metadata[sha256MetadataKey],
		Size:   attrs.Size,
	}, nil
}

func (s *GCSStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := gcp.ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", uri, err)
	}
	return r, nil
}

func (s *GCSStore) uri(objectName string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
}

var _ Store = (*GCSStore)(nil)
