package copyop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Runner starts a command and waits for it. It returns the exit status; a
// non-nil error means the command could not be started.
type Runner func(ctx context.Context, name string, args ...string) (int, []byte, error)

// ExecRunner runs name through os/exec. The context is only checked before
// starting: a running copy is never interrupted.
func ExecRunner(ctx context.Context, name string, args ...string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return 0, out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out, nil
	}
	return 0, out, fmt.Errorf("run %s: %w", name, err)
}
