package log

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// The process-wide logger. Packages that run stages take a *slog.Logger
// instead; the CLI hands them Component loggers derived from this one.
var (
	logger    atomic.Pointer[slog.Logger]
	level     = new(slog.LevelVar)
	verbosity atomic.Int32
)

func init() {
	// Until the CLI has parsed -v, only warnings reach stderr.
	level.Set(slog.LevelWarn)
	verbosity.Store(VerbosityWarn)
	logger.Store(slog.New(NewHandler(HandlerOptions{
		Level:  level,
		Format: "text",
		Output: os.Stderr,
	})))
}

// Init installs the global logger on stderr. The CLI calls it once flags are
// parsed and again after the project config may have changed -v or the
// format.
func Init(v int, format string) {
	InitTo(os.Stderr, v, format)
}

// InitTo is Init writing to w. It also becomes slog's default logger so
// third-party code logging through slog ends up in the same stream.
func InitTo(w io.Writer, v int, format string) {
	SetVerbosity(v)
	l := slog.New(NewHandler(HandlerOptions{
		Level:  level,
		Format: format,
		Output: w,
	}))
	logger.Store(l)
	slog.SetDefault(l)
}

// SetVerbosity changes verbosity at runtime. Loggers handed out earlier
// follow the change.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
	level.Set(VerbosityToLevel(v))
}

// Verbosity returns the current -v value.
func Verbosity() int {
	return int(verbosity.Load())
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// V returns the global logger when verbosity is at least v and a discarding
// logger otherwise:
//
//	log.V(4).Info("file reconciled", "path", p, "status", s)
func V(v int) *slog.Logger {
	if int(verbosity.Load()) >= v {
		return logger.Load()
	}
	return slog.New(discardHandler{})
}

// With returns the global logger with extra attributes.
func With(args ...any) *slog.Logger {
	return logger.Load().With(args...)
}

// Component returns the global logger tagged with component=name, e.g.
// "pipeline", "incremental" or "watch".
func Component(name string) *slog.Logger {
	return logger.Load().With("component", name)
}
