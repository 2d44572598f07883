package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultDir is the output directory used when none is configured.
const DefaultDir = "outputs"

// LocalStore keeps artifacts as files in a single directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create output dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Kind implements Store.
func (s *LocalStore) Kind() string { return BackendLocal }

// Dir returns the backing directory.
func (s *LocalStore) Dir() string { return s.dir }

// Save writes data via a temp file and rename so readers never observe a
// partial artifact.
func (s *LocalStore) Save(ctx context.Context, name string, data []byte, _ string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("store: persist %s: %w", name, err)
	}
	slog.Debug("Artifact stored", "store", BackendLocal, "filename", name, "bytes", len(data))
	return nil
}

// Load implements Store.
func (s *LocalStore) Load(ctx context.Context, name string) (*Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name)) //nolint:gosec // G304: name validated above
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}
	return &Object{Name: name, ContentType: ContentTypeFor(name), Data: data}, nil
}
