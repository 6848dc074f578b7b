package ledger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OpenLog opens path for appending, creating it and its directory when
// needed. A final line left without its newline by an interrupted write is
// terminated first so the next record starts on a line of its own.
func OpenLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND|os.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return f, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	if last[0] != '\n' {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("repair ledger tail: %w", err)
		}
	}
	return f, nil
}
