package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrymomot/companion/pkg/capi"
)

// Store keeps the merged journal text of each (identity, day).
type Store interface {
	// Load returns the stored text, or "" when nothing is stored yet.
	Load(ctx context.Context, identity string, day time.Time) (string, error)
	// Save replaces the stored text.
	Save(ctx context.Context, identity string, day time.Time, text string) error
}

// FileName returns the journal file name used for day.
func FileName(day time.Time) string {
	return "Journal.CAPI." + day.UTC().Format("06-01-02") + ".log"
}

// LocalStore keeps journals as files under a per-identity directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: journal directory is empty", ErrInvalidConfig)
	}
	return &LocalStore{dir: dir}, nil
}

// Path returns where the journal of identity for day is kept.
func (s *LocalStore) Path(identity string, day time.Time) string {
	return filepath.Join(s.dir, capi.SafeFileName(identity), FileName(day))
}

func (s *LocalStore) Load(_ context.Context, identity string, day time.Time) (string, error) {
	if identity == "" {
		return "", ErrNoIdentity
	}
	data, err := os.ReadFile(s.Path(identity, day))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return string(data), nil
}

func (s *LocalStore) Save(_ context.Context, identity string, day time.Time, text string) error {
	if identity == "" {
		return ErrNoIdentity
	}
	path := s.Path(identity, day)
	if err := writeFileAtomic(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
