package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuya-takeyama/strict-dir-sync/internal/checksum"
	"github.com/yuya-takeyama/strict-dir-sync/internal/config"
	"github.com/yuya-takeyama/strict-dir-sync/internal/logging"
	"github.com/yuya-takeyama/strict-dir-sync/internal/prompt"
	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/copyop"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/executor"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/logger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/merge"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/planner"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/progress"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/session"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// flagOverrides collects the config keys set on the command line.
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	overrides := map[string]interface{}{}
	if f := cmd.Flags().Lookup("conflict"); f != nil && f.Changed {
		overrides["conflict"] = conflict
	}
	if f := cmd.Flags().Lookup("operator"); f != nil && f.Changed {
		overrides["operator"] = operatorName
	}
	return overrides
}

type app struct {
	cfg     *config.Config
	folders []session.Folder
	engine  *session.Engine
	logger  *logger.SyncLogger
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	logging.SetupLogger(verbosity)

	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		log := logging.GetLogger("cli")
		log.Debug().Str("config", cfg.Source).Msg("Loaded configuration")
	}
	return cfg, nil
}

func newApp(cfg *config.Config, opts session.Options) (*app, error) {
	log := logging.GetLogger("cli")

	folders, err := selectFolders(cfg)
	if err != nil {
		return nil, err
	}

	syncLogger := logger.NewSyncLogger(logging.GetLogger("engine"), dryRun, quiet)

	scanner, err := walker.NewScanner(walker.Options{
		ExcludeExtensions: cfg.ExcludeExtensions,
		ExcludePatterns:   cfg.ExcludePatterns,
		Logger:            syncLogger,
	})
	if err != nil {
		return nil, err
	}

	op, err := copyop.New(cfg.Operator)
	if err != nil {
		return nil, err
	}

	policy, err := merge.ParsePolicy(cfg.Conflict)
	if err != nil {
		return nil, err
	}
	if policy == merge.PolicyAsk && !dryRun {
		if prompt.Interactive(os.Stdin) {
			opts.Prompter = prompt.NewConsole(os.Stdin, os.Stderr)
		} else {
			log.Warn().Msg("stdin is not a terminal, resolving conflicts with the skip policy")
			policy = merge.PolicySkip
		}
	}

	opts.Operator = op
	opts.Scanner = scanner
	opts.Logger = syncLogger
	opts.Conflict = policy
	opts.DryRun = dryRun
	opts.Fresh = fresh
	opts.Planner = planner.Options{VerifyCompleted: cfg.VerifyCompleted}
	opts.Executor = executor.Options{
		Mirror:            cfg.Mirror,
		MaxAttempts:       cfg.MaxAttempts,
		RetryDelay:        cfg.RetryDelay,
		OperatorRetries:   cfg.Retries,
		OperatorRetryWait: cfg.RetryWait,
		ExcludeExtensions: cfg.ExcludeExtensions,
		ExcludePatterns:   cfg.ExcludePatterns,
		VerifyContent:     cfg.VerifyContent,
	}
	if planJSONFile != "" {
		opts.OnPlan = func(plans []types.TransferPlan) {
			if err := session.NewPlanReport(plans).WriteJSON(planJSONFile); err != nil {
				log.Error().Err(err).Str("path", planJSONFile).Msg("Failed to write plan JSON")
			}
		}
	}

	return &app{
		cfg:     cfg,
		folders: folders,
		engine:  session.NewEngine(opts),
		logger:  syncLogger,
	}, nil
}

func selectFolders(cfg *config.Config) ([]session.Folder, error) {
	wanted := make(map[string]bool, len(folderNames))
	for _, n := range folderNames {
		wanted[n] = true
	}

	var folders []session.Folder
	for _, f := range cfg.Folders {
		if len(wanted) > 0 && !wanted[f.Name] {
			continue
		}
		delete(wanted, f.Name)
		path, err := f.Path()
		if err != nil {
			return nil, err
		}
		folders = append(folders, session.Folder{Name: f.Name, Path: path, Kind: f.FolderKind()})
	}
	for n := range wanted {
		return nil, fmt.Errorf("folder %q is not configured", n)
	}
	return folders, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBackup(cmd *cobra.Command, args []string) error {
	dest := getAbsolutePath(args[0])

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, session.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	defer logging.LogDuration(time.Now(), "backup")
	summary, err := a.engine.Backup(ctx, dest, a.folders)
	return finish(summary, err)
}

func runRestore(cmd *cobra.Command, args []string) error {
	backups := make([]string, 0, len(args))
	for _, a := range args {
		backups = append(backups, getAbsolutePath(a))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name := "restore-" + checksum.String(strings.Join(backups, "\x00"))
	ledgerPath := filepath.Join(cfg.LedgerDir, name+".jsonl")
	if cfg.LedgerDir == "" {
		if ledgerPath, err = logging.LedgerPath(name); err != nil {
			return fmt.Errorf("failed to locate restore ledger: %w", err)
		}
	}

	a, err := newApp(cfg, session.Options{LedgerPath: ledgerPath})
	if err != nil {
		return err
	}

	folders := a.folders
	if targetDir != "" {
		target := getAbsolutePath(targetDir)
		for i := range folders {
			folders[i].Path = filepath.Join(target, folders[i].Name)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	defer logging.LogDuration(time.Now(), "restore")
	summary, err := a.engine.Restore(ctx, backups, folders)
	return finish(summary, err)
}

func finish(summary *session.Summary, runErr error) error {
	if summary == nil {
		return runErr
	}

	logging.PrintSummary(os.Stdout, summary, quiet)

	if resultJSONFile != "" {
		if err := summary.WriteJSON(resultJSONFile); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if len(summary.FailedFolders) > 0 {
		return fmt.Errorf("%d folder(s) failed", len(summary.FailedFolders))
	}
	if summary.Interrupted {
		return errors.New("interrupted")
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	dest := getAbsolutePath(args[0])

	dryRun = true
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, session.Options{})
	if err != nil {
		return err
	}

	plans, err := a.engine.Plan(dest, a.folders)
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}

	report := session.NewPlanReport(plans)
	if planJSONFile != "" {
		if err := report.WriteJSON(planJSONFile); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}

	for _, p := range plans {
		for _, rec := range p.FilesToCopy {
			a.logger.Copy(
				filepath.Join(p.Folder.SourcePath, filepath.FromSlash(rec.RelPath)),
				filepath.Join(p.Folder.DestPath, filepath.FromSlash(rec.RelPath)),
			)
		}
	}

	if !quiet {
		s := report.Summary
		fmt.Printf("\n%d folder(s): %d pending, %d complete, %d not found\n", s.Folders, s.Pending, s.Complete, s.NotFound)
		fmt.Printf("%d file(s) to copy, %d already done\n", s.Copy, s.Skip)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logging.SetupLogger(verbosity)

	path := args[0]
	if walker.Present(path) {
		path = filepath.Join(path, session.StateDir, "ledger.jsonl")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no ledger at %s: %w", path, err)
	}

	l, err := loadStatusLedger(path, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Ledger: %s\n", path)
	fmt.Printf("Session: %s\n", l.SessionID())
	if n := l.InvalidRecords(); n > 0 {
		fmt.Printf("Unreadable records: %d\n", n)
	}

	markers := l.Markers()
	if len(markers) > 0 {
		first, last := markers[0], markers[len(markers)-1]
		report := progress.Estimate(last, 0, first.Timestamp, last.Timestamp)
		fmt.Printf("Started: %s\n", first.Timestamp.Local().Format(time.DateTime))
		fmt.Printf("Last update: %s (%s %s)\n", last.Timestamp.Local().Format(time.DateTime), last.Event, last.Folder)
		fmt.Printf("Progress: %s, %d/%d folders, %d/%d files\n",
			report, last.FoldersDone, last.TotalFolders, last.FilesDone, last.TotalFiles)
	}

	for _, folder := range l.Folders() {
		state := "in progress"
		if l.Finished(folder) {
			state = "finished"
		}
		fmt.Printf("  %-24s %6d file(s)  %s\n", folder, len(l.Completed(folder)), state)
	}
	return nil
}

// loadStatusLedger loads the latest session at path, or session id when set.
func loadStatusLedger(path, id string) (*ledger.Ledger, error) {
	load := ledger.Load
	if id != "" {
		load = func(path string) (*ledger.Ledger, error) { return ledger.LoadSession(path, id) }
	}
	l, err := load(path)
	if err != nil {
		return nil, err
	}
	if l.Corrupt() {
		return nil, fmt.Errorf("%s: %w", path, types.ErrLedgerCorrupt)
	}
	if id != "" && len(l.Markers()) == 0 {
		return nil, fmt.Errorf("session %s not found in %s", id, path)
	}
	return l, nil
}

func getAbsolutePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // fallback to original path
	}
	return absPath
}
