package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/internal/checksum"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/planner"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type Mode string

const (
	ModeBackup  Mode = "backup"
	ModeRestore Mode = "restore"
)

// Summary is the end-of-run report.
type Summary struct {
	SessionID     string                `json:"session_id"`
	Mode          Mode                  `json:"mode"`
	DryRun        bool                  `json:"dry_run"`
	Resumed       bool                  `json:"resumed"`
	Folders       []types.FolderOutcome `json:"folders"`
	FilesCopied   int                   `json:"files_copied"`
	FilesSkipped  int                   `json:"files_skipped"`
	BytesCopied   uint64                `json:"bytes_copied"`
	Conflicts     int                   `json:"conflicts"`
	Elapsed       time.Duration         `json:"elapsed_ns"`
	LedgerPath    string                `json:"ledger_path,omitempty"`
	FailedFolders []string              `json:"failed_folders,omitempty"`
	Interrupted   bool                  `json:"interrupted,omitempty"`
	Plan          planner.Summary       `json:"plan"`
}

// Failed reports whether any folder ended in tier C or the run was cut short.
func (s *Summary) Failed() bool {
	return len(s.FailedFolders) > 0 || s.Interrupted
}

func (s *Summary) add(outcome types.FolderOutcome) {
	s.Folders = append(s.Folders, outcome)
	s.FilesCopied += outcome.Copied
	s.FilesSkipped += outcome.Skipped
	if outcome.Status == types.OutcomeFailed {
		name := outcome.Folder
		if outcome.Source != "" {
			name = fmt.Sprintf("%s (%s)", outcome.Folder, outcome.Source)
		}
		s.FailedFolders = append(s.FailedFolders, name)
	}
}

// WriteJSON writes the summary to path.
func (s *Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// NewSessionID derives a session id from the mode, the roots involved and
// the start time.
func NewSessionID(mode Mode, roots []string, start time.Time) string {
	parts := append([]string{string(mode), start.UTC().Format(time.RFC3339Nano)}, roots...)
	return checksum.String(strings.Join(parts, "\x00"))
}
