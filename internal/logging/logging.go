// Package logging builds the zerolog logger for a vmkeep run: human or JSON
// output on stderr, plus a JSON copy in a per-run log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/jbweber/vmkeep/internal/naming"
)

// Config controls logger initialization.
type Config struct {
	Format  string    // "json", "console", or "auto"
	Level   string    // "debug", "info", "warn", "error"
	Dir     string    // optional directory for the per-run log file
	RunID   string    // attached to every event
	Started time.Time // names the run log file
}

var defaultTimeFmt = time.RFC3339

var (
	stderr       io.Writer = os.Stderr
	isTerminalFn           = term.IsTerminal
	mkdirAllFn             = os.MkdirAll
	openFileFn             = os.OpenFile
)

// RunLog is the per-run log file.
type RunLog struct {
	Path string
	file *os.File
}

// Close flushes and closes the log file. It is safe to call on a nil RunLog.
func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return f.Close()
}

// Init builds the run logger. When cfg.Dir is set, events are also written
// as JSON lines to <Dir>/backup-<timestamp>.log; the returned RunLog must
// be closed when the run ends.
func Init(cfg Config) (zerolog.Logger, *RunLog, error) {
	writer := selectWriter(cfg.Format)

	var runLog *RunLog
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		started := cfg.Started
		if started.IsZero() {
			started = time.Now()
		}
		var err error
		runLog, err = openRunLog(dir, started)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writer = zerolog.MultiLevelWriter(writer, runLog.file)
	}

	ctx := zerolog.New(writer).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.RunID != "" {
		ctx = ctx.Str("run_id", cfg.RunID)
	}
	return ctx.Logger(), runLog, nil
}

func openRunLog(dir string, started time.Time) (*RunLog, error) {
	if err := mkdirAllFn(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, naming.LogName(started))
	f, err := openFileFn(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &RunLog{Path: path, file: f}, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		fmt.Fprintf(stderr, "logging: invalid level %q; using %q\n", level, "info")
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "console":
		return newConsoleWriter(stderr)
	case "json":
		return stderr
	case "auto", "":
		if isTerminal(stderr) {
			return newConsoleWriter(stderr)
		}
		return stderr
	default:
		fmt.Fprintf(stderr, "logging: invalid format %q; using %q\n", format, "json")
		return stderr
	}
}

func newConsoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: defaultTimeFmt,
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok || file == nil {
		return false
	}
	return isTerminalFn(int(file.Fd()))
}
