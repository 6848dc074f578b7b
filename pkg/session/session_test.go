package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/copyop"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/executor"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/merge"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/planner"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

func write(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// recordingOperator wraps another operator, remembers every source it was
// asked to copy and can cancel the session after a number of calls.
type recordingOperator struct {
	copyop.Operator
	calls       []string
	cancelAfter int
	cancel      context.CancelFunc
}

func (r *recordingOperator) Copy(ctx context.Context, req copyop.Request) (copyop.Result, error) {
	res, err := r.Operator.Copy(ctx, req)
	r.calls = append(r.calls, req.Source)
	if r.cancel != nil && len(r.calls) == r.cancelAfter {
		r.cancel()
	}
	return res, err
}

func newEngine(t *testing.T, op copyop.Operator, opts Options) *Engine {
	t.Helper()
	scanner, err := walker.NewScanner(walker.Options{ExcludeExtensions: []string{".pst"}})
	require.NoError(t, err)
	opts.Operator = op
	opts.Scanner = scanner
	opts.Planner = planner.Options{VerifyCompleted: true}
	opts.Executor = executor.Options{MaxAttempts: 2}
	return NewEngine(opts)
}

func TestBackupIsIdempotent(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	write(t, filepath.Join(home, "Documents", "A.txt"), string(make([]byte, 100)), time.Unix(10, 0))
	write(t, filepath.Join(home, "Documents", "B.txt"), string(make([]byte, 50)), time.Unix(20, 0))
	write(t, filepath.Join(home, "Documents", "mail.PST"), "archive", time.Unix(20, 0))

	folders := []Folder{
		{Name: "Documents", Path: filepath.Join(home, "Documents"), Kind: types.KindStandard},
		{Name: "Pictures", Path: filepath.Join(home, "Pictures"), Kind: types.KindStandard},
	}

	first, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)
	assert.False(t, first.Resumed)
	assert.Equal(t, 2, first.FilesCopied)
	assert.Equal(t, uint64(150), first.BytesCopied)
	require.Len(t, first.Folders, 2)
	assert.Equal(t, types.OutcomeSuccess, first.Folders[0].Status)
	assert.Equal(t, types.OutcomeSkipped, first.Folders[1].Status)
	assert.False(t, first.Failed())
	assert.FileExists(t, filepath.Join(dest, "Documents", "A.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "Documents", "mail.PST"))
	assert.FileExists(t, filepath.Join(dest, StateDir, "ledger.jsonl"))

	op := &recordingOperator{Operator: copyop.NewNative()}
	second, err := newEngine(t, op, Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 0, second.Plan.Copy)
	assert.Equal(t, 2, second.Plan.Skip)
	assert.Equal(t, 0, second.FilesCopied)
	assert.Empty(t, op.calls)
}

func TestBackupRecopiesChangedFile(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	docs := filepath.Join(home, "Documents")
	write(t, filepath.Join(docs, "A.txt"), "one", time.Unix(10, 0))

	folders := []Folder{{Name: "Documents", Path: docs}}
	_, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)

	write(t, filepath.Join(docs, "A.txt"), "two!", time.Unix(30, 0))
	summary, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesCopied)
	assert.Equal(t, "two!", read(t, filepath.Join(dest, "Documents", "A.txt")))
}

func TestBackupResumesAfterInterruption(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	names := []string{"Desktop", "Documents", "Music"}
	var folders []Folder
	for _, name := range names {
		write(t, filepath.Join(home, name, name+".txt"), name, time.Unix(10, 0))
		folders = append(folders, Folder{Name: name, Path: filepath.Join(home, name)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	op := &recordingOperator{Operator: copyop.NewNative(), cancelAfter: 1, cancel: cancel}

	first, err := newEngine(t, op, Options{}).Backup(ctx, dest, folders)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, first)
	assert.True(t, first.Interrupted)
	assert.True(t, first.Failed())
	assert.Len(t, first.Folders, 1)
	assert.NoDirExists(t, filepath.Join(dest, "Documents"))

	before, err := ledger.Load(filepath.Join(dest, StateDir, "ledger.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Desktop.txt"}, before.Completed("Desktop"))
	assert.True(t, before.Finished("Desktop"))

	op = &recordingOperator{Operator: copyop.NewNative()}
	second, err := newEngine(t, op, Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, []string{filepath.Join(home, "Documents"), filepath.Join(home, "Music")}, op.calls)
	assert.Equal(t, 2, second.FilesCopied)

	after, err := ledger.Load(filepath.Join(dest, StateDir, "ledger.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, before.Completed("Desktop"), after.Completed("Desktop"))
	assert.Equal(t, []string{"Music.txt"}, after.Completed("Music"))
}

func TestBackupFreshStartsNewSession(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	write(t, filepath.Join(home, "Documents", "A.txt"), "a", time.Unix(10, 0))
	folders := []Folder{{Name: "Documents", Path: filepath.Join(home, "Documents")}}

	first, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)

	op := &recordingOperator{Operator: copyop.NewNative()}
	e := newEngine(t, op, Options{Fresh: true})
	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := e.Backup(context.Background(), dest, folders)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.False(t, second.Resumed)
	assert.Len(t, op.calls, 1)
}

func TestBackupUnwritableDestination(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	write(t, blocker, "x", time.Now())

	_, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), filepath.Join(blocker, "backup"), nil)
	assert.ErrorIs(t, err, types.ErrDestinationUnwritable)
}

func TestBackupDryRunWritesNothing(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	write(t, filepath.Join(home, "Documents", "A.txt"), "a", time.Unix(10, 0))

	var planned []types.TransferPlan
	op := &recordingOperator{Operator: copyop.NewNative()}
	summary, err := newEngine(t, op, Options{
		DryRun: true,
		OnPlan: func(p []types.TransferPlan) { planned = p },
	}).Backup(context.Background(), dest, []Folder{{Name: "Documents", Path: filepath.Join(home, "Documents")}})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Empty(t, op.calls)
	assert.NoDirExists(t, dest)
	require.Len(t, planned, 1)
	assert.Equal(t, types.PlanPending, planned[0].Status)
	assert.Equal(t, "would copy 1 file(s)", summary.Folders[0].Detail)
}

func TestPlanUsesLedger(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	write(t, filepath.Join(home, "Documents", "A.txt"), "a", time.Unix(10, 0))
	folders := []Folder{{Name: "Documents", Path: filepath.Join(home, "Documents")}}

	e := newEngine(t, copyop.NewNative(), Options{})
	plans, err := e.Plan(dest, folders)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Len(t, plans[0].FilesToCopy, 1)

	_, err = e.Backup(context.Background(), dest, folders)
	require.NoError(t, err)

	plans, err = e.Plan(dest, folders)
	require.NoError(t, err)
	assert.Equal(t, types.PlanComplete, plans[0].Status)

	report := NewPlanReport(plans)
	require.Len(t, report.Files, 1)
	assert.Equal(t, "skip", report.Files[0].Action)
	assert.Equal(t, planner.ReasonCompleted, report.Files[0].Reason)
}

type scriptedPrompter struct{ answers []merge.Decision }

func (s *scriptedPrompter) Ask(ctx context.Context, c types.ConflictRecord, remaining int) (merge.Decision, error) {
	d := s.answers[0]
	s.answers = s.answers[1:]
	return d, nil
}

func restoreFixture(t *testing.T) (backups []string, local string) {
	t.Helper()
	root := t.TempDir()
	b1 := filepath.Join(root, "b1")
	b2 := filepath.Join(root, "b2")
	write(t, filepath.Join(b1, "Documents", "X.txt"), "from b1", time.Unix(5, 0))
	write(t, filepath.Join(b2, "Documents", "X.txt"), "from b2", time.Unix(8, 0))
	write(t, filepath.Join(b2, "Documents", "Y.txt"), "only b2", time.Unix(8, 0))
	return []string{b1, b2}, filepath.Join(root, "home", "Documents")
}

func TestRestoreMergePolicies(t *testing.T) {
	tests := []struct {
		policy merge.Policy
		wantX  string
	}{
		{merge.PolicyIfNewer, "from b2"},
		{merge.PolicySkip, "from b1"},
		{merge.PolicyOverwrite, "from b2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			backups, local := restoreFixture(t)
			summary, err := newEngine(t, copyop.NewNative(), Options{
				Conflict:   tt.policy,
				LedgerPath: filepath.Join(t.TempDir(), "restore.jsonl"),
			}).Restore(context.Background(), backups, []Folder{{Name: "Documents", Path: local}})
			require.NoError(t, err)

			assert.Equal(t, tt.wantX, read(t, filepath.Join(local, "X.txt")))
			assert.Equal(t, "only b2", read(t, filepath.Join(local, "Y.txt")))
			assert.Equal(t, 1, summary.Conflicts)
			require.Len(t, summary.Folders, 2)
			assert.Equal(t, backups[1]+string(filepath.Separator)+"Documents", summary.Folders[1].Source)
		})
	}
}

func TestRestoreSyncedRootMapping(t *testing.T) {
	root := t.TempDir()
	backup := filepath.Join(root, "backup")
	write(t, filepath.Join(backup, "SyncedRoot_Work", "plan.md"), "plan", time.Unix(5, 0))
	local := filepath.Join(root, "OneDrive", "Work")

	_, err := newEngine(t, copyop.NewNative(), Options{
		LedgerPath: filepath.Join(root, "restore.jsonl"),
	}).Restore(context.Background(), []string{backup}, []Folder{{Name: "Work", Path: local, Kind: types.KindSyncedRoot}})
	require.NoError(t, err)
	assert.Equal(t, "plan", read(t, filepath.Join(local, "plan.md")))
}

func TestRestoreAbortIsScopedToFolder(t *testing.T) {
	backups, local := restoreFixture(t)
	b3 := filepath.Join(filepath.Dir(backups[0]), "b3")
	write(t, filepath.Join(b3, "Documents", "X.txt"), "from b3", time.Unix(9, 0))
	write(t, filepath.Join(b3, "Music", "song.mp3"), "la", time.Unix(9, 0))
	backups = append(backups, b3)
	music := filepath.Join(filepath.Dir(local), "Music")

	summary, err := newEngine(t, copyop.NewNative(), Options{
		Conflict:   merge.PolicyAsk,
		Prompter:   &scriptedPrompter{answers: []merge.Decision{merge.DecisionAbort}},
		LedgerPath: filepath.Join(t.TempDir(), "restore.jsonl"),
	}).Restore(context.Background(), backups, []Folder{
		{Name: "Documents", Path: local},
		{Name: "Music", Path: music},
	})
	require.NoError(t, err)

	// the conflicting file is kept, the rest of the aborted source still lands
	assert.Equal(t, "from b1", read(t, filepath.Join(local, "X.txt")))
	assert.Equal(t, "only b2", read(t, filepath.Join(local, "Y.txt")))
	assert.Equal(t, "la", read(t, filepath.Join(music, "song.mp3")))

	require.Len(t, summary.Folders, 6)
	assert.Equal(t, types.OutcomeSuccess, summary.Folders[0].Status)
	assert.Equal(t, types.OutcomeWarning, summary.Folders[1].Status)
	assert.ErrorIs(t, summary.Folders[1].Err, types.ErrConflictAborted)
	assert.Equal(t, types.OutcomeSkipped, summary.Folders[2].Status)
	assert.ErrorIs(t, summary.Folders[2].Err, types.ErrConflictAborted)
	assert.Equal(t, types.OutcomeSuccess, summary.Folders[5].Status)
	assert.False(t, summary.Failed())
}

func TestRestoreRequiresInputs(t *testing.T) {
	e := newEngine(t, copyop.NewNative(), Options{LedgerPath: filepath.Join(t.TempDir(), "l.jsonl")})
	_, err := e.Restore(context.Background(), nil, nil)
	assert.Error(t, err)

	e = newEngine(t, copyop.NewNative(), Options{})
	_, err = e.Restore(context.Background(), []string{t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestSummaryWriteJSON(t *testing.T) {
	s := &Summary{SessionID: "abc", Mode: ModeBackup}
	s.add(types.FolderOutcome{Folder: "Documents", Status: types.OutcomeFailed, Copied: 2, Skipped: 1})
	assert.True(t, s.Failed())
	assert.Equal(t, []string{"Documents"}, s.FailedFolders)

	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, s.WriteJSON(path))
	assert.Contains(t, read(t, path), `"failed_folders": [`)
}

func TestNewSessionID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewSessionID(ModeBackup, []string{"/dst", "/src"}, at)
	assert.Len(t, a, 16)
	assert.Equal(t, a, NewSessionID(ModeBackup, []string{"/dst", "/src"}, at))
	assert.NotEqual(t, a, NewSessionID(ModeRestore, []string{"/dst", "/src"}, at))
	assert.NotEqual(t, a, NewSessionID(ModeBackup, []string{"/dst", "/src"}, at.Add(time.Second)))
}

func TestBackupFollowsSymlinkedFolder(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "other-drive", "Documents")
	write(t, filepath.Join(target, "a.txt"), "alpha", time.Unix(10, 0))
	link := filepath.Join(root, "home", "Documents")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	require.NoError(t, os.Symlink(target, link))
	dest := filepath.Join(root, "backup")

	summary, err := newEngine(t, copyop.NewNative(), Options{}).Backup(context.Background(), dest, []Folder{{Name: "Documents", Path: link}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Plan.Copy)
	assert.Equal(t, 1, summary.FilesCopied)
	require.Len(t, summary.Folders, 1)
	assert.Equal(t, types.OutcomeSuccess, summary.Folders[0].Status)
	assert.Equal(t, "alpha", read(t, filepath.Join(dest, "Documents", "a.txt")))
}

func TestRestoreIntoSymlinkedFolderKeepsExisting(t *testing.T) {
	backups, _ := restoreFixture(t)
	root := t.TempDir()
	target := filepath.Join(root, "cloud", "Documents")
	write(t, filepath.Join(target, "X.txt"), "mine", time.Unix(1, 0))
	link := filepath.Join(root, "Documents")
	require.NoError(t, os.Symlink(target, link))
	ledgerPath := filepath.Join(root, "restore.jsonl")

	summary, err := newEngine(t, copyop.NewNative(), Options{
		Conflict:   merge.PolicySkip,
		LedgerPath: ledgerPath,
	}).Restore(context.Background(), backups, []Folder{{Name: "Documents", Path: link}})
	require.NoError(t, err)

	assert.Equal(t, "mine", read(t, filepath.Join(target, "X.txt")))
	assert.Equal(t, "only b2", read(t, filepath.Join(target, "Y.txt")))
	assert.Equal(t, 2, summary.Conflicts)

	l, err := ledger.Load(ledgerPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y.txt"}, l.Completed("Documents@1"))
}

func TestRestoreToNewTargetStartsNewSession(t *testing.T) {
	backups, local := restoreFixture(t)
	ledgerPath := filepath.Join(t.TempDir(), "restore.jsonl")
	restore := func(path string) *Summary {
		t.Helper()
		summary, err := newEngine(t, copyop.NewNative(), Options{
			Conflict:   merge.PolicySkip,
			LedgerPath: ledgerPath,
		}).Restore(context.Background(), backups, []Folder{{Name: "Documents", Path: path}})
		require.NoError(t, err)
		return summary
	}

	first := restore(local)
	assert.False(t, first.Resumed)

	elsewhere := filepath.Join(t.TempDir(), "elsewhere", "Documents")
	second := restore(elsewhere)
	assert.False(t, second.Resumed)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "from b1", read(t, filepath.Join(elsewhere, "X.txt")))
	assert.Equal(t, "only b2", read(t, filepath.Join(elsewhere, "Y.txt")))

	third := restore(elsewhere)
	assert.True(t, third.Resumed)
	assert.Equal(t, second.SessionID, third.SessionID)
	assert.Equal(t, 0, third.FilesCopied)
}

// failingOperator fails hard for one source and copies the rest natively.
type failingOperator struct {
	copyop.Operator
	source string
}

func (f *failingOperator) Copy(ctx context.Context, req copyop.Request) (copyop.Result, error) {
	if req.Source == f.source {
		return copyop.Result{ExitCode: 16, Tier: copyop.TierC, Detail: "fatal error"}, nil
	}
	return f.Operator.Copy(ctx, req)
}

func TestBackupFolderFailureDoesNotStopSession(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backup")
	write(t, filepath.Join(home, "Desktop", "note.txt"), "note", time.Unix(10, 0))
	write(t, filepath.Join(home, "Documents", "A.txt"), "a", time.Unix(10, 0))
	folders := []Folder{
		{Name: "Desktop", Path: filepath.Join(home, "Desktop")},
		{Name: "Documents", Path: filepath.Join(home, "Documents")},
	}

	op := &failingOperator{Operator: copyop.NewNative(), source: filepath.Join(home, "Desktop")}
	summary, err := newEngine(t, op, Options{}).Backup(context.Background(), dest, folders)
	require.NoError(t, err)

	require.Len(t, summary.Folders, 2)
	assert.Equal(t, types.OutcomeFailed, summary.Folders[0].Status)
	assert.ErrorIs(t, summary.Folders[0].Err, types.ErrDestinationUnwritable)
	assert.Equal(t, types.OutcomeSuccess, summary.Folders[1].Status)
	assert.Equal(t, "a", read(t, filepath.Join(dest, "Documents", "A.txt")))
	assert.Equal(t, []string{"Desktop (" + filepath.Join(home, "Desktop") + ")"}, summary.FailedFolders)
	assert.True(t, summary.Failed())
	assert.False(t, summary.Interrupted)
}
