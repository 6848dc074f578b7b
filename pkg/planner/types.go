package planner

import (
	"iter"

	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// Completions is the read side of the ledger the planner needs.
type Completions interface {
	Lookup(folder, relPath string) (ledger.Entry, bool)
}

type Options struct {
	// VerifyCompleted re-routes a completed file to the copy list when the
	// ledger knows its size and mtime and the source no longer matches.
	VerifyCompleted bool
	// Exists reports whether a folder source is present. Defaults to a
	// directory stat.
	Exists func(path string) bool
}

const (
	ReasonNew       = "new file"
	ReasonCompleted = "already completed"
	ReasonChanged   = "changed since completed"
)

// Classification is the result of comparing a source listing with the ledger.
type Classification struct {
	New       []types.FileRecord
	Completed []types.FileRecord
	Changed   []types.FileRecord
}

// Summary aggregates plan counts for display.
type Summary struct {
	Folders   int    `json:"folders"`
	Pending   int    `json:"pending"`
	Complete  int    `json:"complete"`
	NotFound  int    `json:"not_found"`
	Copy      int    `json:"copy"`
	Skip      int    `json:"skip"`
	CopyBytes uint64 `json:"copy_bytes"`
}

type Source = iter.Seq[types.FileRecord]
