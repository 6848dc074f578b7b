package checksum

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

const bufferSize = 64 * 1024 // 64KB buffer

// CalculateFile returns the xxh3 digest of a file as a hex string.
func CalculateFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Calculate(file)
}

// Calculate returns the xxh3 digest of everything read from r.
func Calculate(r io.Reader) (string, error) {
	hasher := xxh3.New()
	buffer := make([]byte, bufferSize)

	if _, err := io.CopyBuffer(hasher, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return format(hasher.Sum64()), nil
}

// String hashes a string, used for deriving stable identifiers.
func String(s string) string {
	return format(xxh3.HashString(s))
}

func format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// SameContent compares two files by size first and digest second.
func SameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	ha, err := CalculateFile(a)
	if err != nil {
		return false, err
	}
	hb, err := CalculateFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
