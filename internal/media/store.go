package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// AvatarStore persists processed avatars and returns their public URL.
type AvatarStore interface {
	Put(ctx context.Context, agentID string, data []byte) (string, error)
	Delete(ctx context.Context, agentID string) error
}

// GCSStore keeps avatars as public objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to bucket. An empty credentialsFile uses the
// default application credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("credentials file %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put uploads the avatar and makes it publicly readable.
func (s *GCSStore) Put(ctx context.Context, agentID string, data []byte) (string, error) {
	name := ObjectName(agentID)
	obj := s.client.Bucket(s.bucket).Object(name)

	w := obj.NewWriter(ctx)
	w.ContentType = ContentType
	w.CacheControl = "public, max-age=31536000"
	w.PredefinedACL = "publicRead"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", name, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, name), nil
}

// Delete removes the avatar. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, agentID string) error {
	err := s.client.Bucket(s.bucket).Object(ObjectName(agentID)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// LocalStore keeps avatars on disk, served by the API under /avatars/.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir if needed. baseURL is the public origin of the
// server.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "avatars"), 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir is the directory served at /avatars/.
func (s *LocalStore) Dir() string {
	return filepath.Join(s.dir, "avatars")
}

func (s *LocalStore) Put(_ context.Context, agentID string, data []byte) (string, error) {
	name := ObjectName(agentID)
	if err := os.WriteFile(filepath.Join(s.dir, filepath.FromSlash(name)), data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + name, nil
}

func (s *LocalStore) Delete(_ context.Context, agentID string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(ObjectName(agentID))))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
