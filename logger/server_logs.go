package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

var accessLogger atomic.Pointer[slog.Logger]

// ServerLogs owns the access and error log files of one server cycle.
type ServerLogs struct {
	accessFile *os.File
	errorFile  *os.File
	previous   *slog.Logger
}

// teeHandler fans a record out to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sub := range h.handlers {
		if !sub.Enabled(ctx, r.Level) {
			continue
		}
		if err := sub.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// OpenServerLogs opens both append-only server logs. Error-level records of
// the global logger are mirrored to the error log until Close is called.
func OpenServerLogs(accessPath, errorPath string) (*ServerLogs, error) {
	if accessPath == "" {
		return nil, errors.New("access log path is not set")
	}
	if errorPath == "" {
		return nil, errors.New("error log path is not set")
	}

	accessFile, err := openAppend(accessPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	errorFile, err := openAppend(errorPath)
	if err != nil {
		accessFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	previous := Get()
	tee := &teeHandler{handlers: []slog.Handler{
		previous.Handler(),
		slog.NewTextHandler(errorFile, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	globalLogger.Store(slog.New(tee))
	accessLogger.Store(slog.New(slog.NewTextHandler(accessFile, &slog.HandlerOptions{Level: slog.LevelInfo})))

	return &ServerLogs{
		accessFile: accessFile,
		errorFile:  errorFile,
		previous:   previous,
	}, nil
}

// Close restores the process logger and closes both files.
func (l *ServerLogs) Close() error {
	globalLogger.Store(l.previous)
	accessLogger.Store(nil)
	return errors.Join(l.accessFile.Close(), l.errorFile.Close())
}

// Access writes one line to the access log. It is a no-op before OpenServerLogs.
func Access(msg string, args ...any) {
	if l := accessLogger.Load(); l != nil {
		l.Info(msg, args...)
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
