// Package artifact is a path-addressable blob store for serialized
// models and their metrics documents. References are stable strings, so
// a registry row can always be resolved back to its bytes.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const refScheme = "file://"

// Store writes artifacts under a root directory, one directory per
// (model_name, version).
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Put stores the serialized model and its metrics document for a
// (name, version) pair and returns the model's reference. Files are
// written to a temp path and renamed so a partial artifact is never
// visible under a valid reference.
func (s *Store) Put(name, version string, model, metrics []byte) (string, error) {
	dir := filepath.Join(s.root, "models", name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}

	modelPath := filepath.Join(dir, "model.json")
	if err := writeAtomic(modelPath, model); err != nil {
		return "", fmt.Errorf("write model: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "metrics.json"), metrics); err != nil {
		return "", fmt.Errorf("write metrics: %w", err)
	}

	return refScheme + modelPath, nil
}

// Get resolves a reference produced by Put and returns the stored bytes.
func (s *Store) Get(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return data, nil
}

// GetMetrics returns the metrics document stored alongside the model a
// reference points at.
func (s *Store) GetMetrics(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "metrics.json"))
	if err != nil {
		return nil, fmt.Errorf("read metrics for %s: %w", ref, err)
	}
	return data, nil
}

// resolve validates the scheme and confines the path to the store root.
func (s *Store) resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", fmt.Errorf("unsupported artifact ref %q", ref)
	}
	path := filepath.Clean(strings.TrimPrefix(ref, refScheme))
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact ref %q outside store root", ref)
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
