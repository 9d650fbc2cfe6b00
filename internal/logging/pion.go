package logging

import (
	pionlog "github.com/pion/logging"
	"github.com/rs/zerolog"
)

// GetPionDefaultLoggerFactory returns a pion LoggerFactory that routes
// WebRTC internals through the default zerolog logger.
func GetPionDefaultLoggerFactory() pionlog.LoggerFactory {
	return &pionLoggerFactory{root: GetDefaultLogger()}
}

type pionLoggerFactory struct {
	root *zerolog.Logger
}

func (f *pionLoggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	l := f.root.With().Str("scope", "pion/"+scope).Logger()
	return &pionLogger{l: l}
}

type pionLogger struct {
	l zerolog.Logger
}

func (p *pionLogger) Trace(msg string)                  { p.l.Trace().Msg(msg) }
func (p *pionLogger) Tracef(format string, args ...any) { p.l.Trace().Msgf(format, args...) }
func (p *pionLogger) Debug(msg string)                  { p.l.Debug().Msg(msg) }
func (p *pionLogger) Debugf(format string, args ...any) { p.l.Debug().Msgf(format, args...) }
func (p *pionLogger) Info(msg string)                   { p.l.Info().Msg(msg) }
func (p *pionLogger) Infof(format string, args ...any)  { p.l.Info().Msgf(format, args...) }
func (p *pionLogger) Warn(msg string)                   { p.l.Warn().Msg(msg) }
func (p *pionLogger) Warnf(format string, args ...any)  { p.l.Warn().Msgf(format, args...) }
func (p *pionLogger) Error(msg string)                  { p.l.Error().Msg(msg) }
func (p *pionLogger) Errorf(format string, args ...any) { p.l.Error().Msgf(format, args...) }
