package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// Storage keeps uploaded blobs under a single base directory.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/uploads"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

// Put writes data to key. Keys are slash separated and must stay inside the
// base directory. The file is written under a temporary name and renamed once
// complete, so a failed upload never leaves a partial blob at key.
func (s *Storage) Put(ctx context.Context, key string, data io.Reader) (domain.StoredRef, error) {
	target, err := s.resolve(key)
	if err != nil {
		return domain.StoredRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return domain.StoredRef{}, fmt.Errorf("create blob dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: data})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return domain.StoredRef{}, fmt.Errorf("commit file: %w", err)
	}
	return domain.StoredRef{Path: key, SizeBytes: n}, nil
}

func (s *Storage) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage put", errors.New("empty key"))
	}
	target := filepath.Join(s.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.basePath, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage put", fmt.Errorf("key %q escapes storage root", key))
	}
	return target, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
