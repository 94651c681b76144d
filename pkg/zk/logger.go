package zk

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging surface the protocol library writes to. Callers may
// plug their own; the default forwards to zerolog.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Log is used by every ZK created without an explicit logger.
var Log Logger

type zkLogger struct {
	log zerolog.Logger
}

// NewLogger adapts a zerolog logger to the Logger interface.
func NewLogger(l zerolog.Logger) Logger {
	return &zkLogger{log: l.With().Str("component", "zk").Logger()}
}

func defaultLogger() Logger {
	return NewLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

func (zlog *zkLogger) Info(v ...interface{}) {
	zlog.log.Info().Msg(fmt.Sprint(v...))
}
func (zlog *zkLogger) Infof(format string, v ...interface{}) {
	zlog.log.Info().Msgf(format, v...)
}
func (zlog *zkLogger) Debug(v ...interface{}) {
	zlog.log.Debug().Msg(fmt.Sprint(v...))
}
func (zlog *zkLogger) Debugf(format string, v ...interface{}) {
	zlog.log.Debug().Msgf(format, v...)
}
func (zlog *zkLogger) Error(v ...interface{}) {
	zlog.log.Error().Msg(fmt.Sprint(v...))
}
func (zlog *zkLogger) Errorf(format string, v ...interface{}) {
	zlog.log.Error().Msgf(format, v...)
}
