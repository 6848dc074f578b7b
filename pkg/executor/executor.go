package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/internal/checksum"
	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/copyop"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/logger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/progress"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type Options struct {
	// Mirror deletes destination files that are not in the source.
	Mirror bool
	// MaxAttempts bounds how often a retryable tier B result is retried.
	MaxAttempts int
	RetryDelay  time.Duration
	// OperatorRetries and OperatorRetryWait are handed to the copy tool.
	OperatorRetries   int
	OperatorRetryWait time.Duration
	ExcludeExtensions []string
	ExcludePatterns   []string
	// VerifyContent additionally compares xxh3 digests before a file is
	// marked completed.
	VerifyContent bool
	LogFile       string
}

// Executor runs the copy operator for one planned folder at a time and keeps
// the ledger in step with what actually reached the destination.
type Executor struct {
	operator copyop.Operator
	ledger   *ledger.Ledger
	scanner  *walker.Scanner
	logger   logger.Logger
	opts     Options

	sleep     func(time.Duration)
	now       func() time.Time
	startedAt time.Time
	baseline  int
}

func NewExecutor(operator copyop.Operator, l *ledger.Ledger, scanner *walker.Scanner, log logger.Logger, opts Options) *Executor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if log == nil {
		log = logger.NullLogger{}
	}
	if opts.ExcludeExtensions == nil {
		opts.ExcludeExtensions = scanner.ExcludedExtensions()
	}
	if opts.ExcludePatterns == nil {
		opts.ExcludePatterns = scanner.ExcludedPatterns()
	}
	return &Executor{
		operator:  operator,
		ledger:    l,
		scanner:   scanner,
		logger:    log,
		opts:      opts,
		sleep:     time.Sleep,
		now:       time.Now,
		startedAt: time.Now(),
		baseline:  l.CompletedCount(),
	}
}

// Execute transfers one folder. It never returns early on failure: the
// outcome carries the tier and the error instead.
func (e *Executor) Execute(ctx context.Context, plan types.TransferPlan) types.FolderOutcome {
	outcome := types.FolderOutcome{
		Folder:  plan.Folder.Name,
		Source:  plan.Folder.SourcePath,
		Skipped: len(plan.FilesToSkip),
	}

	switch plan.Status {
	case types.PlanNotFound:
		outcome.Status = types.OutcomeSkipped
		outcome.Detail = "source not found"
		outcome.Err = fmt.Errorf("%s: %w", plan.Folder.SourcePath, types.ErrSourceNotFound)
		return outcome
	case types.PlanComplete:
		outcome.Status = types.OutcomeSuccess
		outcome.Detail = "nothing to transfer"
		return outcome
	}

	key := plan.LedgerKey
	if key == "" {
		key = plan.Folder.Name
	}

	start := e.ledger.Snapshot()
	start.Event = types.EventStart
	start.Folder = key
	start.Dest = plan.Folder.DestPath
	if err := e.ledger.Persist(start); err != nil {
		e.logger.Warn("ledger", key, err)
	}

	for _, rec := range plan.FilesToCopy {
		e.logger.Copy(
			filepath.Join(plan.Folder.SourcePath, filepath.FromSlash(rec.RelPath)),
			filepath.Join(plan.Folder.DestPath, filepath.FromSlash(rec.RelPath)),
		)
	}

	res, attempts, err := e.copyWithRetry(ctx, plan)
	outcome.Attempts = attempts
	outcome.ExitCode = res.ExitCode
	outcome.Detail = res.Detail

	copied, missing := e.confirm(plan, key)
	outcome.Copied = copied
	outcome.Missing = missing

	finish := e.ledger.Snapshot()
	finish.Event = types.EventFinish
	finish.Folder = key
	finish.Dest = plan.Folder.DestPath
	if perr := e.ledger.Persist(finish); perr != nil {
		e.logger.Warn("ledger", key, perr)
	}

	switch {
	case err != nil:
		outcome.Status = types.OutcomeFailed
		outcome.Err = err
		e.logger.Error("copy", plan.Folder.Name, err)
	case res.Tier == copyop.TierB || len(missing) > 0:
		outcome.Status = types.OutcomeWarning
		if len(missing) > 0 {
			outcome.Detail = fmt.Sprintf("%s; %d file(s) not confirmed", outcome.Detail, len(missing))
		}
	default:
		outcome.Status = types.OutcomeSuccess
	}

	e.logger.Progress(plan.Folder.Name, progress.Estimate(e.ledger.Snapshot(), e.baseline, e.startedAt, e.now()))
	return outcome
}

// copyWithRetry returns a non-nil error for tier C, for operator start
// failures and for retryable results that never cleared.
func (e *Executor) copyWithRetry(ctx context.Context, plan types.TransferPlan) (copyop.Result, int, error) {
	req := copyop.Request{
		Source:            plan.Folder.SourcePath,
		Dest:              plan.Folder.DestPath,
		Mirror:            e.opts.Mirror,
		ExcludeExtensions: e.opts.ExcludeExtensions,
		ExcludePatterns:   e.opts.ExcludePatterns,
		ExcludePaths:      relPaths(plan.FilesToSkip),
		Retries:           e.opts.OperatorRetries,
		RetryWait:         e.opts.OperatorRetryWait,
		LogFile:           e.opts.LogFile,
	}

	var res copyop.Result
	for attempt := 1; ; attempt++ {
		var err error
		res, err = e.operator.Copy(ctx, req)
		if err != nil {
			return res, attempt, fmt.Errorf("%s: %w", e.operator.Name(), err)
		}

		switch {
		case res.Tier == copyop.TierA:
			return res, attempt, nil
		case res.Tier == copyop.TierB && !res.Retryable:
			return res, attempt, nil
		case res.Tier == copyop.TierC:
			return res, attempt, fmt.Errorf("%s exit %d: %s: %w", e.operator.Name(), res.ExitCode, res.Detail, types.ErrDestinationUnwritable)
		}

		if attempt >= e.opts.MaxAttempts {
			return res, attempt, fmt.Errorf("%s exit %d after %d attempts: %w (%w)",
				e.operator.Name(), res.ExitCode, attempt, types.ErrDestinationUnwritable, types.ErrTransientCopyFailure)
		}
		e.logger.Warn("retry", plan.Folder.Name, fmt.Errorf("attempt %d: %s: %w", attempt, res.Detail, types.ErrTransientCopyFailure))
		e.sleep(e.opts.RetryDelay)
	}
}

// confirm re-scans the destination and records exactly the planned files
// that arrived intact.
func (e *Executor) confirm(plan types.TransferPlan, key string) (int, []string) {
	present := types.IndexRecords(walker.Collect(e.scanner.Scan(plan.Folder.DestPath)))

	copied := 0
	var missing []string
	for _, want := range plan.FilesToCopy {
		got, ok := present[want.RelPath]
		if !ok || got.Size != want.Size || !e.contentMatches(plan, want.RelPath) {
			missing = append(missing, want.RelPath)
			continue
		}
		e.ledger.RecordCompletedFile(key, want)
		copied++
	}
	return copied, missing
}

func (e *Executor) contentMatches(plan types.TransferPlan, relPath string) bool {
	if !e.opts.VerifyContent {
		return true
	}
	same, err := checksum.SameContent(
		filepath.Join(plan.Folder.SourcePath, filepath.FromSlash(relPath)),
		filepath.Join(plan.Folder.DestPath, filepath.FromSlash(relPath)),
	)
	if err != nil {
		e.logger.Warn("verify", relPath, err)
		return false
	}
	return same
}

func relPaths(records []types.FileRecord) []string {
	paths := make([]string, 0, len(records))
	for _, r := range records {
		paths = append(paths, r.RelPath)
	}
	return paths
}
