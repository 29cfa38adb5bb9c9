package incremental

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ScanConfig configures the scanner.
type ScanConfig struct {
	// Ignore lists doublestar patterns, matched against slash-separated
	// absolute paths.
	Ignore []string
}

// Scanner builds an Index by walking input roots.
type Scanner struct {
	ignore []string
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScanConfig) *Scanner {
	return &Scanner{ignore: cfg.Ignore}
}

// Ignored reports whether path matches an ignore pattern.
func (s *Scanner) Ignored(path string) bool {
	slash := filepath.ToSlash(path)
	for _, pattern := range s.ignore {
		if ok, _ := doublestar.Match(pattern, slash); ok {
			return true
		}
	}
	return false
}

// Scan indexes every file under roots. A root may be a file or a directory;
// missing roots are skipped. Hashes from prev are reused for files whose
// mtime and size did not change.
func (s *Scanner) Scan(ctx context.Context, roots []string, prev *Index) (*Index, error) {
	idx := NewIndex()

	for _, root := range roots {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if !info.IsDir() {
			if err := s.add(idx, prev, root, info); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			// Check context cancellation
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil {
				return err
			}

			if d.IsDir() {
				if path != root && s.Ignored(path) {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			return s.add(idx, prev, path, info)
		})
		if err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func (s *Scanner) add(idx, prev *Index, path string, info fs.FileInfo) error {
	if s.Ignored(path) {
		return nil
	}
	entry := &Entry{
		Path:    path,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}
	if old, ok := prev.Get(path); ok && old.ModTime == entry.ModTime && old.Size == entry.Size {
		entry.Hash = old.Hash
	} else {
		hash, err := HashFile(path)
		if err != nil {
			return err
		}
		entry.Hash = hash
	}
	idx.Add(entry)
	return nil
}
