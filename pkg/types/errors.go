package types

import "errors"

var (
	// ErrSourceNotFound marks a folder whose source is absent. The folder is skipped.
	ErrSourceNotFound = errors.New("source not found")
	// ErrDestinationUnwritable is fatal for a single folder, or for the session
	// when raised before any folder starts.
	ErrDestinationUnwritable = errors.New("destination unwritable")
	// ErrTransientCopyFailure is a retryable copy failure. Once retries are
	// exhausted it is reported together with ErrDestinationUnwritable.
	ErrTransientCopyFailure = errors.New("transient copy failure")
	// ErrLedgerCorrupt means a ledger existed but held no valid records.
	ErrLedgerCorrupt = errors.New("ledger corrupt")
	// ErrConflictAborted is raised when the user aborts conflict review for a folder.
	ErrConflictAborted = errors.New("conflict resolution aborted")
)
