package copyop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// Native copies with the standard library. Files whose size and mtime
// already match at the destination are left alone.
type Native struct {
	now func() time.Time
}

func NewNative() *Native {
	return &Native{now: time.Now}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Copy(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	scanner, err := walker.NewScanner(walker.Options{
		ExcludeExtensions: req.ExcludeExtensions,
		ExcludePatterns:   req.ExcludePatterns,
	})
	if err != nil {
		return Result{}, err
	}

	log, closeLog := n.openLog(req.LogFile)
	defer closeLog()

	if err := os.MkdirAll(req.Dest, 0755); err != nil {
		log("ERROR mkdir %s: %v", req.Dest, err)
		res := ClassifyNative(nativeFatal).result(nativeFatal)
		res.Detail += ": " + err.Error()
		return res, nil
	}

	excluded := make(map[string]struct{}, len(req.ExcludePaths))
	for _, p := range req.ExcludePaths {
		excluded[p] = struct{}{}
	}

	var locked, vanished, fatal int
	var lastErr error
	seen := make(map[string]struct{})

	for rec := range scanner.Scan(req.Source) {
		seen[rec.RelPath] = struct{}{}
		if _, skip := excluded[rec.RelPath]; skip {
			continue
		}

		dst := filepath.Join(req.Dest, filepath.FromSlash(rec.RelPath))
		if upToDate(dst, rec) {
			continue
		}

		src := filepath.Join(req.Source, filepath.FromSlash(rec.RelPath))
		err := copyFile(src, dst, rec.ModTime)
		switch {
		case err == nil:
			log("copied %s", rec.RelPath)
		case isDestError(err):
			fatal++
			lastErr = err
			log("ERROR %s: %v", rec.RelPath, err)
		case errors.Is(err, fs.ErrNotExist):
			vanished++
			log("WARN vanished %s", rec.RelPath)
		case isLockError(err):
			locked++
			lastErr = err
			log("WARN locked %s: %v", rec.RelPath, err)
		default:
			fatal++
			lastErr = err
			log("ERROR %s: %v", rec.RelPath, err)
		}
	}

	for _, w := range scanner.Warnings() {
		locked++
		lastErr = w.Err
		log("WARN unreadable %s: %v", w.Path, w.Err)
	}

	if req.Mirror {
		if err := n.mirror(req, scanner, seen, excluded, log); err != nil {
			fatal++
			lastErr = err
		}
	}

	code := nativeOK
	switch {
	case fatal > 0:
		code = nativeFatal
	case locked > 0:
		code = nativeLocked
	case vanished > 0:
		code = nativeVanished
	}
	res := ClassifyNative(code).result(code)
	if lastErr != nil {
		res.Detail = fmt.Sprintf("%s (%d locked, %d failed): %v", res.Detail, locked, fatal, lastErr)
	}
	return res, nil
}

// mirror removes destination files that are absent from the source. Excluded
// paths and excluded extensions are kept.
func (n *Native) mirror(req Request, scanner *walker.Scanner, seen, excluded map[string]struct{}, log func(string, ...any)) error {
	var firstErr error
	for rec := range scanner.Scan(req.Dest) {
		if _, ok := seen[rec.RelPath]; ok {
			continue
		}
		if _, ok := excluded[rec.RelPath]; ok {
			continue
		}
		path := filepath.Join(req.Dest, filepath.FromSlash(rec.RelPath))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove extra file: %w", err)
			}
			continue
		}
		log("deleted %s", rec.RelPath)
	}
	return firstErr
}

func upToDate(dst string, rec types.FileRecord) bool {
	info, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return uint64(info.Size()) == rec.Size && info.ModTime().Equal(rec.ModTime)
}

type destError struct{ err error }

func (e *destError) Error() string { return e.err.Error() }
func (e *destError) Unwrap() error { return e.err }

func isDestError(err error) bool {
	var de *destError
	return errors.As(err, &de)
}

// copyFile writes through a temporary file in the destination directory and
// renames it into place, so an interrupted copy never leaves a truncated
// file under the final name.
func copyFile(src, dst string, mtime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &destError{err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sds-*.part")
	if err != nil {
		return &destError{err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return &destError{err}
	}
	if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
		return &destError{err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return &destError{err}
	}
	return nil
}

func isLockError(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, fs.ErrPermission)
}

func (n *Native) openLog(path string) (func(string, ...any), func()) {
	if path == "" {
		return func(string, ...any) {}, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return func(string, ...any) {}, func() {}
	}
	var mu sync.Mutex
	log := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(f, "%s "+format+"\n", append([]any{n.now().Format(time.RFC3339)}, args...)...)
	}
	return log, func() { f.Close() }
}
