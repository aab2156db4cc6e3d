// Package nrlog provides the repo's single logging convention: go-kit/log
// plus the level package. A nil *Logger behaves as a no-op.
package nrlog

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger wraps a go-kit logger with the level helpers this repo uses.
type Logger struct {
	base log.Logger
}

// New wraps an existing go-kit logger.
func New(base log.Logger) *Logger {
	if base == nil {
		base = log.NewNopLogger()
	}
	return &Logger{base: base}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(log.NewNopLogger())
}

func (l *Logger) With(keyvals ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{base: log.With(l.base, keyvals...)}
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	_ = level.Info(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	_ = level.Warn(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	_ = level.Debug(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}
