package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/eargollo/dif/internal/media"
)

// Matcher decides whether a path is excluded from the scan.
type Matcher interface {
	IsIgnored(path string) bool
}

// Scanner discovers image files below a root directory.
type Scanner struct {
	ignore Matcher
}

// New creates a Scanner. A nil ignore matcher excludes nothing.
func New(ignore Matcher) *Scanner {
	return &Scanner{ignore: ignore}
}

// Scan walks root depth-first and returns every image path found, sorted
// and free of duplicates. Symlinks are never followed. An ignored directory
// prunes its whole subtree. Any directory that cannot be read aborts the
// scan with an error; no partial result is returned.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	found := make(map[string]struct{})

	info, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", root, err)
	}
	if info.Mode()&fs.ModeSymlink == 0 && !s.ignored(root) {
		if !info.IsDir() {
			return nil, fmt.Errorf("scan root %q: not a directory", root)
		}
		if err := s.walk(ctx, root, found); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Scanner) walk(ctx context.Context, dir string, found map[string]struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if s.ignored(path) {
			continue
		}

		if entry.IsDir() {
			if err := s.walk(ctx, path, found); err != nil {
				return err
			}
			continue
		}

		if !entry.Type().IsRegular() || !media.IsImage(path) {
			continue
		}
		if _, dup := found[path]; !dup {
			found[path] = struct{}{}
			slog.Debug("image found", "n", len(found), "path", path)
		}
	}
	return nil
}

func (s *Scanner) ignored(path string) bool {
	return s.ignore != nil && s.ignore.IsIgnored(path)
}
