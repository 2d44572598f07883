// Package store persists annotated artifacts under generated names and
// serves them back by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned when no artifact exists under the name.
	ErrNotFound = errors.New("store: artifact not found")
	// ErrInvalidName is returned for names that are not a single safe path element.
	ErrInvalidName = errors.New("store: invalid artifact name")
)

// Backend names accepted by New.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendAzure  = "azure"
)

// Object is a stored artifact.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store is the write-once, read-by-name artifact area shared by all
// requests. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, name string, data []byte, contentType string) error
	Load(ctx context.Context, name string) (*Object, error)
	Kind() string
}

// Config selects and configures a Store implementation.
type Config struct {
	Backend string
	Dir     string
	Azure   AzureConfig
}

// AzureConfig configures the Azure Blob Storage backend.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	// Endpoint overrides the default https://<account>.blob.core.windows.net,
	// e.g. for Azurite.
	Endpoint string
}

// New builds the configured store.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLocal:
		return NewLocalStore(cfg.Dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendAzure:
		return NewAzureStore(cfg.Azure)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects anything but a single file name made of safe
// characters.
func ValidateName(name string) error {
	if name == "" || len(name) > 255 || strings.Contains(name, "..") || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ContentTypeFor guesses a MIME type from the artifact name.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
