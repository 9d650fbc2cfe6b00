// Package logging owns the process-wide zerolog setup. Components take a
// scoped child logger at construction time and never touch the root.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const envLogLevel = "SCANBRIDGE_LOG_LEVEL"

var (
	defaultLogger     *zerolog.Logger
	defaultLoggerOnce sync.Once
)

// GetDefaultLogger returns the shared root logger, initializing it on first
// use. Output is human console format on a TTY, JSON otherwise.
func GetDefaultLogger() *zerolog.Logger {
	defaultLoggerOnce.Do(func() {
		l := newRootLogger(os.Stderr)
		defaultLogger = &l
	})
	return defaultLogger
}

// GetSubsystemLogger returns a child of the default logger tagged with the
// given subsystem name.
func GetSubsystemLogger(subsystem string) zerolog.Logger {
	return GetDefaultLogger().With().Str("subsystem", subsystem).Logger()
}

// SetLevel adjusts the global level at runtime. Unknown names fall back to
// info rather than erroring; this is called from config and test paths that
// have already validated or do not care.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func newRootLogger(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(parseLevel(os.Getenv(envLogLevel)))

	var w io.Writer = out
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.StampMilli}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
