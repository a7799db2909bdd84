package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

func TestPutWritesNestedKey(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ref, err := s.Put(context.Background(), "user-1/1700000000000-abcd1234.mp4", strings.NewReader("video"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref.Path != "user-1/1700000000000-abcd1234.mp4" || ref.SizeBytes != 5 {
		t.Fatalf("unexpected ref %+v", ref)
	}

	raw, err := os.ReadFile(filepath.Join(base, "user-1", "1700000000000-abcd1234.mp4"))
	if err != nil {
		t.Fatalf("read stored blob: %v", err)
	}
	if string(raw) != "video" {
		t.Fatalf("unexpected content %q", raw)
	}

	entries, err := os.ReadDir(filepath.Join(base, "user-1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files must not remain, got %d entries", len(entries))
	}
}

func TestPutRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, key := range []string{"", "../outside.mp4", "a/../../outside.mp4", "."} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}

func TestPutStopsOnCancelledContext(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Put(ctx, "user-1/clip.mp4", strings.NewReader("video")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "user-1", "clip.mp4")); !os.IsNotExist(err) {
		t.Fatalf("cancelled put must not leave a blob, stat err = %v", err)
	}
}
