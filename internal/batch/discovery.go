// Package batch discovers scan inputs and processes them on a bounded
// worker pool.
package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// ErrNoInputs is returned when discovery leaves nothing to process.
var ErrNoInputs = errors.New("no input images")

// DiscoverOptions controls how directory arguments are expanded.
type DiscoverOptions struct {
	Recursive bool
	// Include and Exclude are filepath.Match patterns applied to base names.
	Include []string
	Exclude []string
}

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Discover expands directories into the supported images they contain.
// URLs and explicit files are kept in order; paths that cannot be stat'ed
// are kept too so the caller can report them per input.
func Discover(args []string, opts DiscoverOptions) ([]string, error) {
	var out []string
	for _, arg := range args {
		if IsURL(arg) {
			out = append(out, arg)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			if !matchesAny(arg, opts.Exclude) {
				out = append(out, arg)
			}
			continue
		}
		files, err := discoverInDirectory(arg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		out = append(out, files...)
	}
	if len(out) == 0 {
		return nil, ErrNoInputs
	}
	return out, nil
}

func discoverInDirectory(dir string, opts DiscoverOptions) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if utils.IsSupportedImage(path) && shouldInclude(path, opts) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// shouldInclude applies exclude patterns first; no include patterns means
// everything not excluded.
func shouldInclude(path string, opts DiscoverOptions) bool {
	if matchesAny(path, opts.Exclude) {
		return false
	}
	return len(opts.Include) == 0 || matchesAny(path, opts.Include)
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
