// Package session runs a whole backup or restore: it plans every folder
// against the ledger, resolves restore conflicts and drives the executor one
// folder at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/copyop"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/executor"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/logger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/merge"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/planner"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// StateDir is the directory kept inside a backup root for session state.
const StateDir = ".strict-dir-sync"

// Folder is one configured folder at its local location.
type Folder struct {
	Name string
	Path string
	Kind types.FolderKind
}

type Options struct {
	Operator copyop.Operator
	Scanner  *walker.Scanner
	Logger   logger.Logger

	Planner  planner.Options
	Executor executor.Options

	Conflict merge.Policy
	Prompter merge.Prompter

	DryRun bool
	// Fresh ignores any earlier session in the ledger.
	Fresh bool
	// LedgerPath defaults to <dest>/.strict-dir-sync/ledger.jsonl for
	// backups. Restores require it.
	LedgerPath string
	// OnPlan is called once every folder has been planned.
	OnPlan func([]types.TransferPlan)
}

type Engine struct {
	opts Options
	now  func() time.Time
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NullLogger{}
	}
	if opts.Conflict == "" {
		opts.Conflict = merge.PolicySkip
	}
	return &Engine{opts: opts, now: time.Now}
}

// Backup copies folders into dest. Only an unusable destination root fails
// the session; every other failure is reported per folder.
func (e *Engine) Backup(ctx context.Context, dest string, folders []Folder) (*Summary, error) {
	start := e.now()

	if !e.opts.DryRun {
		if err := checkWritable(dest); err != nil {
			return nil, err
		}
	}

	ledgerPath := e.opts.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(dest, StateDir, "ledger.jsonl")
	}

	roots := []string{dest}
	for _, f := range folders {
		roots = append(roots, f.Path)
	}
	l, resumed, closeLedger, err := e.openLedger(ledgerPath, NewSessionID(ModeBackup, roots, start), nil)
	if err != nil {
		return nil, err
	}
	defer closeLedger()

	summary := &Summary{
		SessionID:  l.SessionID(),
		Mode:       ModeBackup,
		DryRun:     e.opts.DryRun,
		Resumed:    resumed,
		LedgerPath: ledgerPath,
	}

	p := planner.NewPlanner(e.opts.Planner, e.opts.Logger)
	plans := make([]types.TransferPlan, 0, len(folders))
	for _, f := range folders {
		unit := types.ForBackup(f.Name, f.Path, dest, f.Kind)
		plans = append(plans, p.Plan(e.opts.Scanner.Scan(unit.SourcePath), unit, l))
	}
	e.planned(summary, l, plans)

	execOpts := e.opts.Executor
	if execOpts.LogFile == "" && !e.opts.DryRun {
		execOpts.LogFile = filepath.Join(dest, StateDir, "copy.log")
	}
	exec := executor.NewExecutor(e.opts.Operator, l, e.opts.Scanner, e.opts.Logger, execOpts)

	for i, plan := range plans {
		if err := ctx.Err(); err != nil {
			return e.finish(summary, start), err
		}
		l.SetFolder(i, plan.LedgerKey)
		e.opts.Logger.FolderStart(plan.Folder.Name, i, len(plans))
		summary.add(e.execute(ctx, exec, plan, summary))
	}
	return e.finish(summary, start), nil
}

// Restore merges the folders of every backup root, in order, back into the
// folders' local locations. Later roots meet files written by earlier ones
// as conflicts.
func (e *Engine) Restore(ctx context.Context, backups []string, folders []Folder) (*Summary, error) {
	start := e.now()

	if len(backups) == 0 {
		return nil, errors.New("restore needs at least one backup root")
	}
	if e.opts.LedgerPath == "" {
		return nil, errors.New("restore needs a ledger path")
	}

	roots := append([]string{}, backups...)
	var units []types.FolderUnit
	var dests []destination
	for _, f := range folders {
		roots = append(roots, f.Path)
		for j, backup := range backups {
			unit := types.ForRestore(f.Name, f.Path, backup, f.Kind)
			units = append(units, unit)
			dests = append(dests, destination{key: restoreKey(f.Name, j), path: unit.DestPath})
		}
	}
	l, resumed, closeLedger, err := e.openLedger(e.opts.LedgerPath, NewSessionID(ModeRestore, roots, start), dests)
	if err != nil {
		return nil, err
	}
	defer closeLedger()

	summary := &Summary{
		SessionID:  l.SessionID(),
		Mode:       ModeRestore,
		DryRun:     e.opts.DryRun,
		Resumed:    resumed,
		LedgerPath: e.opts.LedgerPath,
	}

	p := planner.NewPlanner(e.opts.Planner, e.opts.Logger)
	plans := make([]types.TransferPlan, 0, len(units))
	for i, unit := range units {
		plans = append(plans, p.PlanKey(e.opts.Scanner.Scan(unit.SourcePath), unit, dests[i].key, l))
	}
	e.planned(summary, l, plans)

	execOpts := e.opts.Executor
	execOpts.Mirror = false
	exec := executor.NewExecutor(e.opts.Operator, l, e.opts.Scanner, e.opts.Logger, execOpts)

	// one resolver per backup root so a batch decision spans its folders
	resolvers := make([]*merge.Resolver, len(backups))
	for j := range backups {
		resolvers[j] = merge.NewResolver(e.opts.Conflict, e.opts.Prompter)
	}

	for i, f := range folders {
		aborted := false
		for j := range backups {
			if err := ctx.Err(); err != nil {
				return e.finish(summary, start), err
			}
			idx := i*len(backups) + j
			plan := plans[idx]
			l.SetFolder(idx, plan.LedgerKey)
			e.opts.Logger.FolderStart(fmt.Sprintf("%s from %s", f.Name, backups[j]), idx, len(plans))

			if aborted {
				summary.add(types.FolderOutcome{
					Folder: f.Name,
					Source: plan.Folder.SourcePath,
					Status: types.OutcomeSkipped,
					Detail: "conflict review aborted",
					Err:    types.ErrConflictAborted,
				})
				continue
			}

			var res merge.Result
			if plan.Status == types.PlanPending {
				destination := walker.Collect(e.opts.Scanner.Scan(plan.Folder.DestPath))
				if e.opts.DryRun {
					res.Conflicts = merge.Detect(destination, plan.FilesToCopy)
				} else {
					var err error
					res, err = resolvers[j].Resolve(ctx, destination, plan.FilesToCopy)
					if err != nil {
						summary.add(types.FolderOutcome{
							Folder: f.Name,
							Source: plan.Folder.SourcePath,
							Status: types.OutcomeFailed,
							Detail: err.Error(),
							Err:    err,
						})
						continue
					}
					plan = executor.ApplyResolutions(plan, res.Conflicts)
				}
				summary.Conflicts += len(res.Conflicts)
			}

			outcome := e.execute(ctx, exec, plan, summary)
			if res.Aborted {
				aborted = true
				e.opts.Logger.Warn("merge", f.Name, types.ErrConflictAborted)
				if outcome.Status != types.OutcomeFailed {
					outcome.Status = types.OutcomeWarning
					outcome.Err = types.ErrConflictAborted
					outcome.Detail = joinDetail(outcome.Detail, "conflict review aborted")
				}
			}
			summary.add(outcome)
		}
	}
	return e.finish(summary, start), nil
}

// Plan computes backup plans without copying or writing anything.
func (e *Engine) Plan(dest string, folders []Folder) ([]types.TransferPlan, error) {
	ledgerPath := e.opts.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(dest, StateDir, "ledger.jsonl")
	}
	l := ledger.New("")
	if !e.opts.Fresh {
		var err error
		if l, err = ledger.Load(ledgerPath); err != nil {
			return nil, err
		}
	}

	p := planner.NewPlanner(e.opts.Planner, e.opts.Logger)
	plans := make([]types.TransferPlan, 0, len(folders))
	for _, f := range folders {
		unit := types.ForBackup(f.Name, f.Path, dest, f.Kind)
		plans = append(plans, p.Plan(e.opts.Scanner.Scan(unit.SourcePath), unit, l))
	}
	return plans, nil
}

// destination is where a ledger key's files are written.
type destination struct {
	key  string
	path string
}

func restoreKey(folder string, source int) string {
	return fmt.Sprintf("%s@%d", folder, source)
}

// openLedger loads the ledger at path and, unless running dry, attaches it
// for appending. The earlier session is resumed unless Fresh is set, the log
// held nothing usable or it recorded one of dests at another path.
func (e *Engine) openLedger(path, newID string, dests []destination) (*ledger.Ledger, bool, func(), error) {
	noop := func() {}

	var l *ledger.Ledger
	resumed := false
	if !e.opts.Fresh {
		loaded, err := ledger.Load(path)
		if err != nil {
			return nil, false, noop, err
		}
		switch {
		case loaded.Corrupt():
			e.opts.Logger.Warn("ledger", path, fmt.Errorf("%w: starting a full resync", types.ErrLedgerCorrupt))
		case loaded.SessionID() == "":
		default:
			if moved, ok := movedDestination(loaded, dests); ok {
				e.opts.Logger.Warn("ledger", path, fmt.Errorf("%s was last written to %s, starting a new session", moved.key, moved.path))
			} else {
				l = loaded
				resumed = true
			}
		}
		if n := loaded.InvalidRecords(); n > 0 && !loaded.Corrupt() {
			e.opts.Logger.Debug(fmt.Sprintf("ledger: ignored %d unreadable record(s)", n))
		}
	}
	if l == nil {
		l = ledger.New(newID)
	}

	if e.opts.DryRun {
		return l, resumed, noop, nil
	}

	f, err := ledger.OpenLog(path)
	if err != nil {
		return nil, false, noop, fmt.Errorf("%w: %w", types.ErrDestinationUnwritable, err)
	}
	l.Attach(f)
	if !resumed {
		if err := l.Persist(types.ProgressMarker{Event: types.EventSession}); err != nil {
			f.Close()
			return nil, false, noop, err
		}
	}
	return l, resumed, func() { f.Close() }, nil
}

func movedDestination(l *ledger.Ledger, dests []destination) (destination, bool) {
	for _, d := range dests {
		if prev, ok := l.Dest(d.key); ok && prev != d.path {
			return destination{key: d.key, path: prev}, true
		}
	}
	return destination{}, false
}

func (e *Engine) planned(summary *Summary, l *ledger.Ledger, plans []types.TransferPlan) {
	total := 0
	for _, p := range plans {
		total += p.TotalFiles()
	}
	l.SetTotals(len(plans), total)
	summary.Plan = planner.Summarize(plans)
	if e.opts.OnPlan != nil {
		e.opts.OnPlan(plans)
	}
}

func (e *Engine) execute(ctx context.Context, exec *executor.Executor, plan types.TransferPlan, summary *Summary) types.FolderOutcome {
	if e.opts.DryRun {
		return dryRunOutcome(plan)
	}
	outcome := exec.Execute(ctx, plan)
	if outcome.Copied > 0 {
		missing := make(map[string]bool, len(outcome.Missing))
		for _, m := range outcome.Missing {
			missing[m] = true
		}
		for _, rec := range plan.FilesToCopy {
			if !missing[rec.RelPath] {
				summary.BytesCopied += rec.Size
			}
		}
	}
	return outcome
}

func dryRunOutcome(plan types.TransferPlan) types.FolderOutcome {
	outcome := types.FolderOutcome{
		Folder:  plan.Folder.Name,
		Source:  plan.Folder.SourcePath,
		Status:  types.OutcomeSuccess,
		Skipped: len(plan.FilesToSkip),
		Detail:  fmt.Sprintf("would copy %d file(s)", len(plan.FilesToCopy)),
	}
	if plan.Status == types.PlanNotFound {
		outcome.Status = types.OutcomeSkipped
		outcome.Detail = "source not found"
	}
	return outcome
}

func (e *Engine) finish(summary *Summary, start time.Time) *Summary {
	summary.Elapsed = e.now().Sub(start)
	if len(summary.Folders) < summary.Plan.Folders {
		summary.Interrupted = true
	}
	return summary
}

// checkWritable creates dest if needed and proves a file can be written in it.
func checkWritable(dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("%s: %w: %w", dest, types.ErrDestinationUnwritable, err)
	}
	marker, err := os.CreateTemp(dest, ".sds-write-*")
	if err != nil {
		return fmt.Errorf("%s: %w: %w", dest, types.ErrDestinationUnwritable, err)
	}
	name := marker.Name()
	marker.Close()
	return os.Remove(name)
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
