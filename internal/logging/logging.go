package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract used across osline. Messages are printf-style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithFields(fields map[string]any) Logger
}

type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

var levels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// New builds a go-logger backed Logger. Format is "json" or "console".
func New(opts Options) (Logger, error) {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	if !levels[level] {
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		return glogLogger{logger: glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)}, nil
	case "console":
		return glogLogger{logger: glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLevel(level),
		)}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

// Nop discards everything.
func Nop() Logger { return nop{} }

type nop struct{}

func (nop) Debug(string, ...any)               {}
func (nop) Info(string, ...any)                {}
func (nop) Warn(string, ...any)                {}
func (nop) Error(string, ...any)               {}
func (n nop) WithFields(map[string]any) Logger { return n }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
