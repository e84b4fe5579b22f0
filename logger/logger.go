// Package logger provides structured logging for the ftrd FTP server.
//
// The process log is a global slog logger written to stderr, stdout, a file
// or the local syslog, as text ("console") or JSON.
//
// On top of the process log, the server keeps two append-only text logs
// named in the server configuration: an access log with one line per login
// and transfer, and an error log that mirrors every error-level record.
// Both must be opened before the server starts:
//
//	logs, err := logger.OpenServerLogs(cfg.AccessLog, cfg.ErrorLog)
//	if err != nil {
//		return err
//	}
//	defer logs.Close()
//
// # Usage
//
//	logger.Info("FTP server listening", "addr", addr)
//	logger.Access("transfer", "user", "alice", "path", "/notes.txt")
//	logger.Error("Failed to open data connection", "error", err)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/migadu/ftrd/config"
)

// globalLogger is swapped when the server logs are opened or closed
var globalLogger atomic.Pointer[slog.Logger]

// priorityWriter sends each formatted record to syslog at the priority of
// the record being written.
type priorityWriter struct {
	w     *syslog.Writer
	level slog.Level
}

func (p *priorityWriter) Write(b []byte) (int, error) {
	msg := strings.TrimRight(string(b), "\n")
	var err error
	switch {
	case p.level >= slog.LevelError:
		err = p.w.Err(msg)
	case p.level >= slog.LevelWarn:
		err = p.w.Warning(msg)
	case p.level >= slog.LevelInfo:
		err = p.w.Info(msg)
	default:
		err = p.w.Debug(msg)
	}
	return len(b), err
}

// syslogHandler formats with a text handler and serializes records so the
// shared priorityWriter sees one level at a time.
type syslogHandler struct {
	mu    *sync.Mutex
	out   *priorityWriter
	inner slog.Handler
}

func newSyslogHandler(w *syslog.Writer, opts *slog.HandlerOptions) *syslogHandler {
	out := &priorityWriter{w: w}
	return &syslogHandler{
		mu:  &sync.Mutex{},
		out: out,
		inner: slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: opts.Level,
			// syslog stamps its own time
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		}),
	}
}

func (h *syslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.level = r.Level
	return h.inner.Handle(ctx, r)
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &syslogHandler{mu: h.mu, out: h.out, inner: h.inner.WithAttrs(attrs)}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	return &syslogHandler{mu: h.mu, out: h.out, inner: h.inner.WithGroup(name)}
}

// Initialize sets up the global logger based on configuration. The returned
// file is non-nil when output is a file path and must be closed by the caller.
// An output that cannot be opened falls back to stderr with a warning.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	format := cfg.Format

	var (
		handler slog.Handler
		logFile *os.File
	)
	switch output := cfg.Output; output {
	case "", "stderr":
		handler = newHandler(os.Stderr, format, opts)
	case "stdout":
		handler = newHandler(os.Stdout, format, opts)
	case "syslog":
		handler = openSyslog(format, opts)
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to open log file '%s': %v. Falling back to stderr.\n", output, err)
			handler = newHandler(os.Stderr, format, opts)
			break
		}
		logFile = f
		handler = newHandler(f, format, opts)
	}

	l := slog.New(handler)
	globalLogger.Store(l)
	slog.SetDefault(l)
	return logFile, nil
}

func openSyslog(format string, opts *slog.HandlerOptions) slog.Handler {
	if runtime.GOOS == "windows" {
		fmt.Fprintf(os.Stderr, "WARNING: syslog is not supported on Windows. Falling back to stderr.\n")
		return newHandler(os.Stderr, format, opts)
	}
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "ftrd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v. Falling back to stderr.\n", err)
		return newHandler(os.Stderr, format, opts)
	}
	return newSyslogHandler(w, opts)
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLogLevel maps a configured level name; unknown names mean info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// Infof logs a printf style message, for callers that only offer Printf.
func Infof(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}
