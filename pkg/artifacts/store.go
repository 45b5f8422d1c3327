// Package artifacts is content-addressed storage for evaluation snapshots.
// Every blob is addressed by "sha256:<hex>" of its bytes, so storing the
// same snapshot twice is a no-op.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no blob exists for a reference.
var ErrNotFound = errors.New("artifacts: not found")

const refPrefix = "sha256:"

// Store is a content-addressed blob store.
type Store interface {
	// Put persists data and returns its reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the blob for ref, or ErrNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
}

// Ref returns the reference of data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// digest validates ref and returns its hex part.
func digest(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", fmt.Errorf("artifacts: invalid reference format: %s", ref)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("artifacts: invalid reference digest: %s", ref)
	}
	return raw, nil
}

func objectKey(prefix, hexDigest string) string {
	return prefix + hexDigest + ".json"
}

// FileStore keeps blobs as files in one directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared snapshot directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(hexDigest string) string {
	return filepath.Join(s.baseDir, objectKey("", hexDigest))
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	path := s.path(ref[len(refPrefix):])
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp := path + ".tmp"
	//nolint:gosec // G306: snapshots are not secret
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	d, err := digest(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(d))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	d, err := digest(ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(d))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileStore) Delete(_ context.Context, ref string) error {
	d, err := digest(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
