package texsync

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/texsync/memory"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can race with dirty callbacks logging from guest goroutines.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for texsync and its sub-packages.
// By default texsync produces no log output. Pass nil to restore silence.
//
// Log levels used by texsync:
//   - [slog.LevelDebug]: handle rebuilds, partial vs full synchronization,
//     copy dependency resolution
//   - [slog.LevelInfo]: group lifecycle (initialized, disposed)
//   - [slog.LevelWarn]: backend failures inside callbacks that cannot
//     return errors
//
// Example:
//
//	texsync.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	memory.SetLogger(l)
}

// Logger returns the current logger used by texsync.
// Sub-packages (hostgpu, cmd/texsync-replay) call this to share the
// same logger configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
