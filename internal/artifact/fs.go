package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore is a filesystem-backed RefStore. Objects live under
// <root>/objects/<aa>/<hex>, refs under <root>/refs/<escaped-name>.
// Objects are written to a temp file and renamed into place, so concurrent
// writers of the same content race harmlessly.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	for _, sub := range []string{"objects", "refs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create store dir: %w", err)
		}
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) objectPath(hexDigest string) string {
	return filepath.Join(s.root, "objects", hexDigest[:2], hexDigest)
}

func (s *FSStore) refPath(name string) string {
	return filepath.Join(s.root, "refs", url.PathEscape(name))
}

func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	hexDigest := strings.TrimPrefix(digest, "sha256:")
	dst := s.objectPath(hexDigest)

	if _, err := os.Stat(dst); err == nil {
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("artifact: create object dir: %w", err)
	}

	tmp := filepath.Join(s.root, "tmp", uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write object: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("artifact: store object: %w", err)
	}
	return digest, nil
}

func (s *FSStore) Get(_ context.Context, digest string) ([]byte, error) {
	hexDigest, err := parseDigest(digest)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(hexDigest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: read object: %w", err)
	}
	return data, nil
}

func (s *FSStore) Tag(_ context.Context, name, digest string) error {
	if _, err := parseDigest(digest); err != nil {
		return err
	}
	tmp := filepath.Join(s.root, "tmp", uuid.NewString())
	if err := os.WriteFile(tmp, []byte(digest), 0o644); err != nil {
		return fmt.Errorf("artifact: write ref: %w", err)
	}
	if err := os.Rename(tmp, s.refPath(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: store ref: %w", err)
	}
	return nil
}

func (s *FSStore) Resolve(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("artifact: read ref: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
