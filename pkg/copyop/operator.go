// Package copyop drives the bulk copy tools that move bytes for one folder
// and maps their exit codes onto three outcome tiers.
package copyop

import (
	"context"
	"fmt"
	"time"
)

// Tier classifies a copy result.
type Tier int

const (
	// TierA is a full success, including "nothing to do".
	TierA Tier = iota
	// TierB succeeded with warnings; some causes are worth retrying.
	TierB
	// TierC is a hard failure.
	TierC
)

func (t Tier) String() string {
	switch t {
	case TierA:
		return "A"
	case TierB:
		return "B"
	case TierC:
		return "C"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Request describes one folder copy.
type Request struct {
	Source string
	Dest   string
	// Mirror deletes destination files missing from the source. Excluded
	// paths are never deleted.
	Mirror bool
	// ExcludeExtensions are matched case-insensitively.
	ExcludeExtensions []string
	// ExcludePatterns are doublestar globs on the relative path. Tools that
	// cannot express a pattern ignore it.
	ExcludePatterns []string
	// ExcludePaths are slash-separated paths relative to Source.
	ExcludePaths []string
	// Retries and RetryWait are passed to tools that retry individual files.
	Retries   int
	RetryWait time.Duration
	// LogFile receives the tool's log, appended.
	LogFile string
}

// Result is the classified outcome of a copy run.
type Result struct {
	ExitCode  int
	Tier      Tier
	Retryable bool
	Detail    string
}

// Operator performs a folder copy and blocks until it finishes. A returned
// error means the operator could not run at all.
type Operator interface {
	Name() string
	Copy(ctx context.Context, req Request) (Result, error)
}

// New returns the operator registered under name.
func New(name string) (Operator, error) {
	switch name {
	case "native", "":
		return NewNative(), nil
	case "rsync":
		return NewRsync("rsync"), nil
	case "robocopy":
		return NewRobocopy("robocopy"), nil
	default:
		return nil, fmt.Errorf("unknown copy operator %q", name)
	}
}
