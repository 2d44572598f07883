package barcode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackend is returned for backend names not in the registry.
var ErrUnknownBackend = errors.New("barcode: unknown backend")

// DefaultOrder is the backend priority used when none is configured.
var DefaultOrder = []string{NameZXing, NameDMTX}

// Names lists the registered backend names.
func Names() []string { return []string{NameZXing, NameDMTX} }

// NewBackend constructs a backend by name.
func NewBackend(name string, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameZXing:
		return NewZXingBackend(opts), nil
	case NameDMTX:
		return NewDMTXBackend(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// NewBackends constructs backends in the given priority order. Duplicate
// names are rejected since the name doubles as the result method tag.
func NewBackends(names []string, opts Options) ([]Backend, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}
	seen := make(map[string]bool, len(names))
	out := make([]Backend, 0, len(names))
	for _, n := range names {
		be, err := NewBackend(n, opts)
		if err != nil {
			return nil, err
		}
		if seen[be.Name()] {
			return nil, fmt.Errorf("barcode: backend %q listed twice", be.Name())
		}
		seen[be.Name()] = true
		out = append(out, be)
	}
	return out, nil
}
