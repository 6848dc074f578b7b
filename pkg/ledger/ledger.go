// Package ledger persists which files have been confirmed copied so that an
// interrupted session can resume. The on-disk form is one JSON record per
// line, only ever appended to.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// Entry is what the ledger knows about a completed file. Size and ModTime are
// zero when the file was recorded by path only.
type Entry struct {
	Size    uint64
	ModTime time.Time
}

func (e Entry) same(o Entry) bool {
	return e.Size == o.Size && e.ModTime.Equal(o.ModTime)
}

func (e Entry) unknown() bool {
	return e.Size == 0 && e.ModTime.IsZero()
}

// Record is one line of the ledger log.
type Record struct {
	SessionID string `json:"session_id"`
	types.ProgressMarker
	Completed []types.FileRecord `json:"completed,omitempty"`
}

type pendingEntry struct {
	folder string
	rec    types.FileRecord
}

// Ledger holds resume state for a single session. It has one writer.
type Ledger struct {
	mu sync.Mutex

	sessionID string
	completed map[string]map[string]Entry
	finished  map[string]bool
	dests     map[string]string
	markers   []types.ProgressMarker
	pending   []pendingEntry
	invalid   int
	corrupt   bool

	folderIndex  int
	folder       string
	totalFolders int
	totalFiles   int

	w   io.Writer
	now func() time.Time
}

// New returns an empty ledger for a brand-new session.
func New(sessionID string) *Ledger {
	return &Ledger{
		sessionID: sessionID,
		completed: make(map[string]map[string]Entry),
		finished:  make(map[string]bool),
		dests:     make(map[string]string),
		now:       time.Now,
	}
}

// Load rebuilds the ledger of the latest session recorded at path. A missing
// file yields an empty ledger. Lines that do not decode are ignored; a file
// without a single valid record yields an empty ledger marked Corrupt.
func Load(path string) (*Ledger, error) {
	return load(path, "")
}

// LoadSession is Load restricted to the records of sessionID.
func LoadSession(path, sessionID string) (*Ledger, error) {
	return load(path, sessionID)
}

func load(path, sessionID string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(sessionID), nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	records, invalid, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	if sessionID == "" && len(records) > 0 {
		sessionID = records[len(records)-1].SessionID
	}

	l := New(sessionID)
	l.invalid = invalid
	if len(records) == 0 && invalid > 0 {
		l.corrupt = true
	}
	for _, rec := range records {
		if rec.SessionID != sessionID {
			continue
		}
		l.apply(rec)
	}
	return l, nil
}

// ReadRecords decodes every syntactically valid record from r and counts the
// lines that were skipped.
func ReadRecords(r io.Reader) ([]Record, int, error) {
	var records []Record
	invalid := 0

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec Record
			if jerr := json.Unmarshal(line, &rec); jerr != nil || rec.SessionID == "" {
				invalid++
			} else {
				records = append(records, rec)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalid, err
		}
	}
	return records, invalid, nil
}

func (l *Ledger) apply(rec Record) {
	for _, fr := range rec.Completed {
		l.recordLocked(rec.Folder, fr)
	}
	l.markers = append(l.markers, rec.ProgressMarker)
	if rec.Event == types.EventFinish && rec.Folder != "" {
		l.finished[rec.Folder] = true
	}
	if rec.Dest != "" && rec.Folder != "" {
		l.dests[rec.Folder] = rec.Dest
	}
	l.totalFolders = rec.TotalFolders
	l.totalFiles = rec.TotalFiles
}

func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Corrupt reports whether the loaded log existed but held no valid record.
func (l *Ledger) Corrupt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.corrupt
}

// InvalidRecords counts log lines skipped during Load.
func (l *Ledger) InvalidRecords() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invalid
}

// RecordCompleted marks relPath in folder as copied. Recording the same pair
// again has no effect.
func (l *Ledger) RecordCompleted(folder, relPath string) {
	l.RecordCompletedFile(folder, types.FileRecord{RelPath: relPath})
}

// RecordCompletedFile is RecordCompleted that also keeps size and mtime so a
// later plan can detect that the source changed.
func (l *Ledger) RecordCompletedFile(folder string, rec types.FileRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordLocked(folder, rec) {
		l.pending = append(l.pending, pendingEntry{folder: folder, rec: rec})
	}
}

func (l *Ledger) recordLocked(folder string, rec types.FileRecord) bool {
	files, ok := l.completed[folder]
	if !ok {
		files = make(map[string]Entry)
		l.completed[folder] = files
	}
	prev, exists := files[rec.RelPath]
	next := Entry{Size: rec.Size, ModTime: rec.ModTime}
	if exists && (next.same(prev) || next.unknown()) {
		return false
	}
	files[rec.RelPath] = next
	return true
}

func (l *Ledger) IsCompleted(folder, relPath string) bool {
	_, ok := l.Lookup(folder, relPath)
	return ok
}

// Lookup returns what is known about a completed file.
func (l *Ledger) Lookup(folder, relPath string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.completed[folder][relPath]
	return e, ok
}

// Completed returns the sorted completed paths of folder.
func (l *Ledger) Completed(folder string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.completed[folder]))
	for p := range l.completed[folder] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Folders returns the sorted keys that have completed files or a finish marker.
func (l *Ledger) Folders() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool, len(l.completed)+len(l.finished))
	for f := range l.completed {
		seen[f] = true
	}
	for f := range l.finished {
		seen[f] = true
	}
	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders
}

// CompletedCount counts completed files across every folder.
func (l *Ledger) CompletedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completedCountLocked()
}

func (l *Ledger) completedCountLocked() int {
	n := 0
	for _, files := range l.completed {
		n += len(files)
	}
	return n
}

// Dest returns the destination last recorded for folder.
func (l *Ledger) Dest(folder string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.dests[folder]
	return d, ok
}

// Finished reports whether a finish marker was persisted for folder.
func (l *Ledger) Finished(folder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished[folder]
}

// Markers returns the markers replayed or persisted so far, oldest first.
func (l *Ledger) Markers() []types.ProgressMarker {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ProgressMarker, len(l.markers))
	copy(out, l.markers)
	return out
}

// Last returns the most recent marker.
func (l *Ledger) Last() (types.ProgressMarker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.markers) == 0 {
		return types.ProgressMarker{}, false
	}
	return l.markers[len(l.markers)-1], true
}

// SetTotals sets the session-wide counters used by Snapshot.
func (l *Ledger) SetTotals(totalFolders, totalFiles int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalFolders = totalFolders
	l.totalFiles = totalFiles
}

// SetFolder sets the folder Snapshot reports as current.
func (l *Ledger) SetFolder(index int, folder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.folderIndex = index
	l.folder = folder
}

// Snapshot captures the current counters. Event is left for the caller.
func (l *Ledger) Snapshot() types.ProgressMarker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.ProgressMarker{
		Folder:       l.folder,
		FolderIndex:  l.folderIndex,
		TotalFolders: l.totalFolders,
		FoldersDone:  len(l.finished),
		FilesDone:    l.completedCountLocked(),
		TotalFiles:   l.totalFiles,
		Timestamp:    l.now(),
	}
}

// Attach sets the append target for Persist.
func (l *Ledger) Attach(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = w
}

// Persist appends marker together with every file completed since the
// previous Persist. Without an attached writer it only updates memory.
func (l *Ledger) Persist(marker types.ProgressMarker) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if marker.Timestamp.IsZero() {
		marker.Timestamp = l.now()
	}
	finishes := marker.Event == types.EventFinish && marker.Folder != "" && !l.finished[marker.Folder]
	if finishes {
		marker.FoldersDone = len(l.finished) + 1
	}

	rec := Record{SessionID: l.sessionID, ProgressMarker: marker}
	for _, p := range l.pending {
		if p.folder == marker.Folder {
			rec.Completed = append(rec.Completed, p.rec)
		}
	}

	if l.w != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal ledger record: %w", err)
		}
		data = append(data, '\n')
		if _, err := l.w.Write(data); err != nil {
			return fmt.Errorf("append ledger record: %w", err)
		}
	}

	if finishes {
		l.finished[marker.Folder] = true
	}
	if marker.Dest != "" && marker.Folder != "" {
		l.dests[marker.Folder] = marker.Dest
	}

	rest := l.pending[:0]
	for _, p := range l.pending {
		if p.folder != marker.Folder {
			rest = append(rest, p)
		}
	}
	l.pending = rest
	l.markers = append(l.markers, marker)
	return nil
}
