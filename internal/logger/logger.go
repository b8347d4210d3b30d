// Package logger is the process-wide logging facade. Call sites format
// printf-style; the sink and level are installed once at startup from config.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	level  slog.LevelVar
	active atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	active.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput replaces the log sink; main uses it to tee stdout and the log
// file.
func SetOutput(w io.Writer) {
	active.Store(build(w))
}

// SetLevel applies the configured level name. Unknown names fall back to
// info rather than failing startup.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) {
	active.Load().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	active.Load().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	active.Load().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	active.Load().Error(fmt.Sprintf(format, v...))
}
