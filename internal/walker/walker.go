package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/logger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type Options struct {
	// ExcludeExtensions are matched case-insensitively, with or without the leading dot.
	ExcludeExtensions []string
	// ExcludePatterns are doublestar globs on the slash-separated relative path.
	// A trailing slash excludes a directory subtree.
	ExcludePatterns []string
	Logger          logger.Logger
}

// Warning is an entry the scanner could not read.
type Warning struct {
	Path string
	Err  error
}

// Scanner walks folder trees and reports regular files.
type Scanner struct {
	extensions map[string]struct{}
	patterns   []string
	logger     logger.Logger

	mu       sync.Mutex
	warnings []Warning
}

func NewScanner(opts Options) (*Scanner, error) {
	for _, p := range opts.ExcludePatterns {
		if !doublestar.ValidatePattern(strings.TrimSuffix(p, "/")) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	s := &Scanner{
		extensions: make(map[string]struct{}, len(opts.ExcludeExtensions)),
		patterns:   opts.ExcludePatterns,
		logger:     opts.Logger,
	}
	if s.logger == nil {
		s.logger = logger.NullLogger{}
	}
	for _, ext := range opts.ExcludeExtensions {
		s.extensions[normalizeExt(ext)] = struct{}{}
	}
	return s, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ExcludedExtensions returns the normalized extension exclusion set.
func (s *Scanner) ExcludedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	return exts
}

// ExcludedPatterns returns the glob exclusions as configured.
func (s *Scanner) ExcludedPatterns() []string {
	return append([]string(nil), s.patterns...)
}

// Present reports whether root exists and is a directory.
func Present(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}

// Scan lazily yields every regular file under root. Ranging over the
// sequence again walks the tree again. A missing root yields nothing. A
// symlinked root is followed; links inside the tree are not.
func (s *Scanner) Scan(root string) iter.Seq[types.FileRecord] {
	return func(yield func(types.FileRecord) bool) {
		if !Present(root) {
			return
		}

		// WalkDir does not descend into a symlinked root
		base, err := filepath.EvalSymlinks(root)
		if err != nil {
			s.warn(root, err)
			return
		}

		_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			rel, relErr := filepath.Rel(base, path)
			if relErr != nil {
				s.warn(path, fmt.Errorf("get relative path: %w", relErr))
				return nil
			}
			shown := filepath.Join(root, rel)

			if err != nil {
				s.warn(shown, err)
				if path == base {
					return fs.SkipAll
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}

			relPath := filepath.ToSlash(rel)

			if d.IsDir() {
				if path != base && s.isExcludedDir(relPath) {
					return fs.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}

			if s.IsExcluded(relPath) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				s.warn(shown, fmt.Errorf("get file info: %w", err))
				return nil
			}

			rec := types.FileRecord{
				RelPath: relPath,
				Size:    uint64(info.Size()),
				ModTime: info.ModTime(),
			}
			if !yield(rec) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

func (s *Scanner) warn(path string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		// vanished between readdir and stat
		return
	}
	s.mu.Lock()
	s.warnings = append(s.warnings, Warning{Path: path, Err: err})
	s.mu.Unlock()
	s.logger.Warn("scan", path, err)
}

// Warnings returns every unreadable entry seen so far.
func (s *Scanner) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// IsExcluded checks a slash-separated relative file path against the exclusion set.
func (s *Scanner) IsExcluded(relPath string) bool {
	if _, ok := s.extensions[strings.ToLower(filepath.Ext(relPath))]; ok {
		return true
	}

	for _, pattern := range s.patterns {
		// Handle directory patterns (ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			parts := strings.Split(relPath, "/")
			for i := 1; i < len(parts); i++ {
				subPath := strings.Join(parts[:i], "/")
				if matched, _ := doublestar.Match(dirPattern, subPath); matched {
					return true
				}
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

func (s *Scanner) isExcludedDir(relPath string) bool {
	for _, pattern := range s.patterns {
		if !strings.HasSuffix(pattern, "/") {
			continue
		}
		if matched, _ := doublestar.Match(strings.TrimSuffix(pattern, "/"), relPath); matched {
			return true
		}
	}
	return false
}

// Collect drains seq into a slice sorted by relative path.
func Collect(seq iter.Seq[types.FileRecord]) []types.FileRecord {
	var records []types.FileRecord
	for rec := range seq {
		records = append(records, rec)
	}
	types.SortRecords(records)
	return records
}
