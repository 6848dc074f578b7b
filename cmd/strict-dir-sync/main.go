package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile     string
	verbosity      int
	dryRun         bool
	quiet          bool
	fresh          bool
	conflict       string
	operatorName   string
	folderNames    []string
	targetDir      string
	planJSONFile   string
	resultJSONFile string
	sessionID      string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strict-dir-sync",
		Short: "Resumable backup and merge-restore of user folders",
		Long: `strict-dir-sync backs up a fixed list of user folders to removable or
fixed storage and restores them again. Progress is kept in an append-only
ledger so an interrupted run resumes where it stopped, and restoring several
backups into one place resolves file conflicts deterministically.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (toml or yaml)")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv, -vvv)")
	pf.BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	pf.StringSliceVar(&folderNames, "folder", nil, "Only process these configured folders (multiple allowed)")

	backupCmd := &cobra.Command{
		Use:   "backup <BackupRoot>",
		Short: "Copy the configured folders into a backup root",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	}
	addTransferFlags(backupCmd)

	restoreCmd := &cobra.Command{
		Use:   "restore <BackupRoot>...",
		Short: "Merge one or more backups back into the configured folders",
		Long: `restore merges every backup root, in the order given, into the configured
folder locations. Files that an earlier backup (or the machine itself)
already has are conflicts, resolved by --conflict.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRestore,
	}
	addTransferFlags(restoreCmd)
	restoreCmd.Flags().StringVar(&conflict, "conflict", "", "Conflict policy: ask, skip, overwrite or ifnewer")
	restoreCmd.Flags().StringVar(&targetDir, "target", "", "Restore every folder to <target>/<name> instead of its configured location")

	planCmd := &cobra.Command{
		Use:   "plan <BackupRoot>",
		Short: "Show what a backup would copy without touching anything",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	planCmd.Flags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	planCmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore the ledger")

	statusCmd := &cobra.Command{
		Use:   "status <BackupRoot|LedgerFile>",
		Short: "Show the progress recorded in a ledger",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&sessionID, "session", "", "Show an earlier session instead of the latest one")

	rootCmd.AddCommand(backupCmd, restoreCmd, planCmd, statusCmd)
	return rootCmd
}

func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&dryRun, "dryrun", false, "Shows operations without executing")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Start a new session instead of resuming the ledger")
	cmd.Flags().StringVar(&operatorName, "operator", "", "Copy operator: native, rsync or robocopy")
	cmd.Flags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	cmd.Flags().StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")
}
