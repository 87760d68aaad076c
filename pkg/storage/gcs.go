package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig addresses a Cloud Storage bucket. CredentialsFile is optional;
// without it the default application credentials are used.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// GCS stores blobs as Cloud Storage objects
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS creates a Cloud Storage client for cfg
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCS) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, key))
}

func (s *GCS) Store(ctx context.Context, key string, data []byte) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close writer %s: %w", key, err)
	}
	return nil
}

func (s *GCS) read(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := s.object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return data, nil
}

func (s *GCS) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.read(ctx, key, 0, -1)
}

func (s *GCS) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (s *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: path.Join(s.prefix, prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(attrs.Name, s.prefix), "/")
		if name != "" && strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *GCS) SupportsPartialRetrieval() bool { return true }

func (s *GCS) RetrieveRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	return s.read(ctx, key, offset, length)
}

func (s *GCS) Name() string { return "gcs" }

func (s *GCS) Close() error { return s.client.Close() }
