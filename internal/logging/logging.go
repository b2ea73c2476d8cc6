// Package logging builds the logr.Logger used throughout fleetrun.
//
// Loggers are backed by zap through zapr. Output is a colored console format
// when the destination is a terminal and JSON otherwise, so CI logs stay
// machine-readable. Verbosity maps onto logr V-levels: V(1) carries every
// command line, exit code and captured output.
package logging

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	// FormatAuto picks console for terminals and JSON otherwise.
	FormatAuto Format = "auto"
	// FormatConsole is human-readable output.
	FormatConsole Format = "console"
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "json"
)

// Options configures a logger.
type Options struct {
	// Verbosity enables logr V-levels up to and including this value.
	Verbosity int
	Format    Format
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logr.Logger and a flush function that must be called before
// the process exits.
func New(opts Options) (logr.Logger, func()) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var encoder zapcore.Encoder
	if resolveFormat(opts.Format, out) == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// zapr maps V(n) onto zap level -n.
	level := zap.NewAtomicLevelAt(zapcore.Level(-opts.Verbosity))
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	zl := zap.New(core)

	return zapr.NewLogger(zl), func() { _ = zl.Sync() }
}

// Discard returns a logger that drops everything. Used by tests and as the
// default for library types constructed without a logger.
func Discard() logr.Logger {
	return logr.Discard()
}

func resolveFormat(f Format, out io.Writer) Format {
	switch f {
	case FormatConsole, FormatJSON:
		return f
	}
	if file, ok := out.(*os.File); ok && isatty.IsTerminal(file.Fd()) {
		return FormatConsole
	}
	return FormatJSON
}
