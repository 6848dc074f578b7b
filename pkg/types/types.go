package types

import (
	"path/filepath"
	"sort"
	"time"
)

// FileRecord is a snapshot of one file taken at scan time.
type FileRecord struct {
	RelPath string    `json:"path"`
	Size    uint64    `json:"size"`
	ModTime time.Time `json:"mtime"`
}

type FolderKind string

const (
	KindStandard   FolderKind = "standard"
	KindSyncedRoot FolderKind = "synced_root"
)

// SyncedRootPrefix namespaces cloud-synced folders inside a backup.
const SyncedRootPrefix = "SyncedRoot_"

// FolderUnit is one top-level folder transferred by a session.
type FolderUnit struct {
	Name       string
	SourcePath string
	DestPath   string
	Kind       FolderKind
}

// BackupSubpath returns the directory name a folder occupies inside a backup root.
func BackupSubpath(name string, kind FolderKind) string {
	if kind == KindSyncedRoot {
		return SyncedRootPrefix + name
	}
	return name
}

// ForBackup maps a user folder to its location under backupRoot.
func ForBackup(name, sourcePath, backupRoot string, kind FolderKind) FolderUnit {
	return FolderUnit{
		Name:       name,
		SourcePath: sourcePath,
		DestPath:   filepath.Join(backupRoot, BackupSubpath(name, kind)),
		Kind:       kind,
	}
}

// ForRestore maps a folder stored under backupRoot back to its original location.
func ForRestore(name, originalPath, backupRoot string, kind FolderKind) FolderUnit {
	return FolderUnit{
		Name:       name,
		SourcePath: filepath.Join(backupRoot, BackupSubpath(name, kind)),
		DestPath:   originalPath,
		Kind:       kind,
	}
}

type PlanStatus string

const (
	PlanPending  PlanStatus = "pending"
	PlanComplete PlanStatus = "complete"
	PlanNotFound PlanStatus = "not_found"
)

// TransferPlan is the per-folder work list. It is recomputed every run.
type TransferPlan struct {
	Folder      FolderUnit
	LedgerKey   string
	FilesToCopy []FileRecord
	FilesToSkip []FileRecord
	Status      PlanStatus
	Reasons     map[string]string
}

// TotalFiles counts every file the plan knows about.
func (p TransferPlan) TotalFiles() int {
	return len(p.FilesToCopy) + len(p.FilesToSkip)
}

// CopyBytes sums the sizes of the files still to be copied.
func (p TransferPlan) CopyBytes() uint64 {
	var total uint64
	for _, f := range p.FilesToCopy {
		total += f.Size
	}
	return total
}

type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionSkip      Resolution = "skip"
	ResolutionOverwrite Resolution = "overwrite"
)

// ConflictRecord describes two sources disagreeing on the same relative path.
type ConflictRecord struct {
	RelPath    string
	Existing   FileRecord
	Incoming   FileRecord
	Resolution Resolution
	Reason     string
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeWarning OutcomeStatus = "warning"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// FolderOutcome is what the executor reports for one folder.
type FolderOutcome struct {
	Folder   string        `json:"folder"`
	Source   string        `json:"source,omitempty"`
	Status   OutcomeStatus `json:"status"`
	ExitCode int           `json:"exit_code"`
	Detail   string        `json:"detail,omitempty"`
	Attempts int           `json:"attempts"`
	Copied   int           `json:"copied"`
	Skipped  int           `json:"skipped"`
	Missing  []string      `json:"missing,omitempty"`
	Err      error         `json:"-"`
}

// SortRecords orders records by relative path in place.
func SortRecords(records []FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].RelPath < records[j].RelPath
	})
}

// IndexRecords builds a lookup keyed by relative path.
func IndexRecords(records []FileRecord) map[string]FileRecord {
	m := make(map[string]FileRecord, len(records))
	for _, r := range records {
		m[r.RelPath] = r
	}
	return m
}

type MarkerEvent string

const (
	EventSession MarkerEvent = "session"
	EventStart   MarkerEvent = "start"
	EventFinish  MarkerEvent = "finish"
)

// ProgressMarker is a snapshot of session counters appended to the ledger.
type ProgressMarker struct {
	Event        MarkerEvent `json:"event"`
	Folder       string      `json:"folder,omitempty"`
	Dest         string      `json:"dest,omitempty"`
	FolderIndex  int         `json:"folder_index"`
	TotalFolders int         `json:"total_folders"`
	FoldersDone  int         `json:"folders_done"`
	FilesDone    int         `json:"files_done"`
	TotalFiles   int         `json:"total_files"`
	Timestamp    time.Time   `json:"timestamp"`
}
