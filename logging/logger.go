// Package logging holds the process-wide structured logger shared by every
// darkroom package. By default nothing is logged.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger replaces the logger used by all darkroom packages. Passing nil
// restores the silent default.
//
// Levels in use:
//   - [slog.LevelDebug]: pool hits/misses, pass execution, scheduler decisions
//   - [slog.LevelInfo]: lifecycle (device created, source loaded, export done)
//   - [slog.LevelWarn]: degradations (precision downgrade, dropped frames, fallback)
//   - [slog.LevelError]: frame failures and failed recoveries
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
