// Package prompt asks the user how to resolve restore conflicts.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/merge"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

var errInputClosed = errors.New("stdin closed")

// Interactive reports whether f is attached to a terminal.
func Interactive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Console is a merge.Prompter reading single-letter answers. Lower case
// answers apply to one file, upper case to every remaining conflict.
type Console struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan line
}

type line struct {
	text string
	err  error
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, lines: make(chan line)}
}

func (c *Console) Ask(ctx context.Context, conflict types.ConflictRecord, remaining int) (merge.Decision, error) {
	fmt.Fprintf(c.out, "\nconflict: %s (%d remaining)\n", conflict.RelPath, remaining)
	fmt.Fprintf(c.out, "  existing: %s\n", describe(conflict.Existing))
	fmt.Fprintf(c.out, "  incoming: %s\n", describe(conflict.Incoming))

	for {
		if err := ctx.Err(); err != nil {
			return merge.DecisionAbort, err
		}
		fmt.Fprint(c.out, "[s]kip [o]verwrite [n]ewer wins, upper case for all, [a]bort: ")

		answer, err := c.readLine(ctx)
		if errors.Is(err, errInputClosed) {
			return merge.DecisionAbort, nil
		}
		if err != nil {
			return merge.DecisionAbort, err
		}

		if d, ok := parseAnswer(strings.TrimSpace(answer)); ok {
			return d, nil
		}
		fmt.Fprintln(c.out, "Please answer with s, o, n, S, O, N or a.")
	}
}

func parseAnswer(s string) (merge.Decision, bool) {
	switch s {
	case "s":
		return merge.DecisionSkip, true
	case "o":
		return merge.DecisionOverwrite, true
	case "n":
		return merge.DecisionKeepNewer, true
	case "S":
		return merge.DecisionSkipAll, true
	case "O":
		return merge.DecisionOverwriteAll, true
	case "N":
		return merge.DecisionKeepNewerAll, true
	case "a", "A":
		return merge.DecisionAbort, true
	default:
		return 0, false
	}
}

func describe(r types.FileRecord) string {
	return fmt.Sprintf("%d bytes, modified %s", r.Size, r.ModTime.Local().Format(time.DateTime))
}

// read is the only reader of c.in. A line that arrives after its Ask was
// canceled goes to the next Ask.
func (c *Console) read() {
	defer close(c.lines)
	reader := bufio.NewReader(c.in)
	for {
		text, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(text) != "" {
				c.lines <- line{text: text}
			}
			return
		}
		c.lines <- line{text: text, err: err}
		if err != nil {
			return
		}
	}
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	c.once.Do(func() { go c.read() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return "", errInputClosed
		}
		return l.text, l.err
	}
}
