package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the MinIO-backed store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	BasePath  string
	UseTLS    bool
}

// MinioStore is a RefStore backed by a MinIO (or any S3-compatible) bucket.
// Objects are stored under <base>/objects/<hex>, refs under
// <base>/refs/<name>.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStore creates a MinIO-backed store.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact: minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: minio client: %w", err)
	}
	return &MinioStore{client: client, cfg: cfg}, nil
}

func (s *MinioStore) objectKey(hexDigest string) string {
	return path.Join(s.cfg.BasePath, "objects", hexDigest)
}

func (s *MinioStore) refKey(name string) string {
	return path.Join(s.cfg.BasePath, "refs", name)
}

func (s *MinioStore) Put(ctx context.Context, data []byte) (string, error) {
	digest := Digest(data)
	hexDigest := strings.TrimPrefix(digest, "sha256:")

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(hexDigest),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
	if err != nil {
		return "", fmt.Errorf("artifact: minio put: %w", err)
	}
	return digest, nil
}

func (s *MinioStore) Get(ctx context.Context, digest string) ([]byte, error) {
	hexDigest, err := parseDigest(digest)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(hexDigest), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("artifact: minio get: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: minio read: %w", err)
	}
	return data, nil
}

func (s *MinioStore) Tag(ctx context.Context, name, digest string) error {
	if _, err := parseDigest(digest); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.refKey(name),
		strings.NewReader(digest), int64(len(digest)), minio.PutObjectOptions{
			ContentType: "text/plain",
		})
	if err != nil {
		return fmt.Errorf("artifact: minio tag: %w", err)
	}
	return nil
}

func (s *MinioStore) Resolve(ctx context.Context, name string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.refKey(name), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("artifact: minio resolve: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("artifact: minio resolve: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func isMinioNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}
