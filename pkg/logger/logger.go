package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/progress"
)

// Logger receives engine events. Implementations must not block.
type Logger interface {
	FolderStart(folder string, index, total int)
	Copy(source, dest string)
	Skip(path, reason string)
	Progress(folder string, report progress.Report)
	Warn(operation, path string, err error)
	Error(operation, path string, err error)
	Debug(message string)
}

// SyncLogger prints operation lines to Out and routes diagnostics to zerolog.
type SyncLogger struct {
	IsDryRun bool
	IsQuiet  bool
	Out      io.Writer
	Log      zerolog.Logger
}

func NewSyncLogger(log zerolog.Logger, dryRun, quiet bool) *SyncLogger {
	return &SyncLogger{
		IsDryRun: dryRun,
		IsQuiet:  quiet,
		Out:      os.Stdout,
		Log:      log,
	}
}

func (l *SyncLogger) prefix() string {
	if l.IsDryRun {
		return "(dryrun) "
	}
	return ""
}

func (l *SyncLogger) FolderStart(folder string, index, total int) {
	if !l.IsQuiet {
		fmt.Fprintf(l.Out, "%s[%d/%d] %s\n", l.prefix(), index+1, total, folder)
	}
	l.Log.Info().Str("folder", folder).Int("index", index).Int("total", total).Msg("folder started")
}

func (l *SyncLogger) Copy(source, dest string) {
	if !l.IsQuiet {
		fmt.Fprintf(l.Out, "%scopy: %s to %s\n", l.prefix(), source, dest)
	}
}

func (l *SyncLogger) Skip(path, reason string) {
	l.Log.Debug().Str("path", path).Str("reason", reason).Msg("skip")
}

func (l *SyncLogger) Progress(folder string, report progress.Report) {
	if !l.IsQuiet {
		fmt.Fprintf(l.Out, "%sprogress: %s after %s\n", l.prefix(), report, folder)
	}
	l.Log.Debug().Str("folder", folder).Float64("percent", report.Percent).Dur("eta", report.ETA).Msg("progress")
}

func (l *SyncLogger) Warn(operation, path string, err error) {
	l.Log.Warn().Err(err).Str("operation", operation).Str("path", path).Msg("warning")
}

func (l *SyncLogger) Error(operation, path string, err error) {
	l.Log.Error().Err(err).Str("operation", operation).Str("path", path).Msg("failed")
}

func (l *SyncLogger) Debug(message string) {
	l.Log.Debug().Msg(message)
}

type NullLogger struct{}

func (NullLogger) FolderStart(folder string, index, total int)    {}
func (NullLogger) Copy(source, dest string)                       {}
func (NullLogger) Skip(path, reason string)                       {}
func (NullLogger) Progress(folder string, report progress.Report) {}
func (NullLogger) Warn(operation, path string, err error)         {}
func (NullLogger) Error(operation, path string, err error)        {}
func (NullLogger) Debug(message string)                           {}
