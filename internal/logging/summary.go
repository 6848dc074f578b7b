package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/session"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type summaryStyles struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
}

func newSummaryStyles(w io.Writer) summaryStyles {
	r := lipgloss.NewRenderer(w)
	return summaryStyles{
		title:   r.NewStyle().Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// PrintSummary writes the end-of-run report. In quiet mode it prints
// nothing unless a folder failed.
func PrintSummary(w io.Writer, s *session.Summary, quiet bool) {
	if quiet && !s.Failed() {
		return
	}
	st := newSummaryStyles(w)

	fmt.Fprintln(w)
	title := fmt.Sprintf("=== %s summary ===", capitalize(string(s.Mode)))
	if s.DryRun {
		title += " (dryrun)"
	}
	fmt.Fprintln(w, st.title.Render(title))

	for _, o := range s.Folders {
		name := o.Folder
		if s.Mode == session.ModeRestore && o.Source != "" {
			name = fmt.Sprintf("%s <- %s", o.Folder, o.Source)
		}
		line := fmt.Sprintf("%-8s %s", o.Status, name)
		if o.Detail != "" {
			line += st.muted.Render(" (" + o.Detail + ")")
		}
		fmt.Fprintln(w, statusStyle(st, o.Status).Render(line))
	}

	fmt.Fprintf(w, "Copied: %d files (%s)\n", s.FilesCopied, formatBytes(int64(s.BytesCopied)))
	fmt.Fprintf(w, "Already done: %d files\n", s.FilesSkipped)
	if s.Conflicts > 0 {
		fmt.Fprintf(w, "Conflicts: %d\n", s.Conflicts)
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Elapsed.Round(time.Millisecond))
	if s.LedgerPath != "" {
		fmt.Fprintf(w, "Ledger: %s\n", s.LedgerPath)
	}

	if len(s.FailedFolders) > 0 {
		fmt.Fprintln(w, st.failed.Render("Failed folders, run again to retry:"))
		for _, f := range s.FailedFolders {
			fmt.Fprintln(w, st.failed.Render("  "+f))
		}
	}
	if s.Interrupted {
		fmt.Fprintln(w, st.warning.Render("Interrupted before every folder was processed; run again to resume."))
	}
}

func statusStyle(st summaryStyles, status types.OutcomeStatus) lipgloss.Style {
	switch status {
	case types.OutcomeSuccess:
		return st.ok
	case types.OutcomeWarning:
		return st.warning
	case types.OutcomeFailed:
		return st.failed
	default:
		return st.muted
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
