// Package backingstore implements the "target's backing store" spec §4.2
// requires lifecycle.update to persist applied config into, so that a
// restart does not revert an instance to a stale config. MinIOStore is
// grounded in the teacher's internal/hub/storage minio.Provider; LocalStore
// covers deployment targets (the local container adapter) that have no
// cloud object store to reach for.
package backingstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store persists an instance's applied raw config so that a restart or
// reinstall can recover it without depending on the agent's in-memory
// state.
type Store interface {
	Persist(ctx context.Context, instanceID string, raw []byte) error
}

// Options configures a MinIOStore, mirroring the teacher's S3Options shape.
type Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	InsecureSkipTLS bool
}

// MinIOStore persists config objects to an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOStore builds a MinIOStore from opts.
func NewMinIOStore(opts Options) (*MinIOStore, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	}
	if opts.InsecureSkipTLS {
		minioOpts.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("backingstore: create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: opts.BucketName}, nil
}

// EnsureBucket creates the backing bucket if it does not already exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("backingstore: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("backingstore: create bucket: %w", err)
	}
	return nil
}

// Persist uploads raw under the instance's object key.
func (s *MinIOStore) Persist(ctx context.Context, instanceID string, raw []byte) error {
	key := objectKey(instanceID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("backingstore: put %q: %w", key, err)
	}
	return nil
}

func objectKey(instanceID string) string {
	return fmt.Sprintf("instances/%s/config.json", instanceID)
}

// LocalStore persists config to a directory on disk, for deployment
// targets (the local container adapter) with no cloud object store to
// fall back on.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore returns a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Persist(ctx context.Context, instanceID string, raw []byte) error {
	path := filepath.Join(s.dir, instanceID, "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("backingstore: mkdir %q: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("backingstore: write %q: %w", path, err)
	}
	return nil
}
