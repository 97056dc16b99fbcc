package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process-wide logger for command output. It discards
// everything until InitCLILogger or SetCLILogger runs.
var CLILogger = zap.NewNop()

type Options struct {
	AppName    string
	Level      string
	Verbose    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    io.Writer
}

// InitCLILogger installs a console logger at info level, or debug when
// verbose.
func InitCLILogger(appName string, verbose bool) {
	logger, err := NewCLILogger(Options{AppName: appName, Verbose: verbose})
	if err != nil {
		return
	}
	SetCLILogger(logger)
}

func SetCLILogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	CLILogger = logger
}

// NewCLILogger builds a human-readable stderr logger, teed into a rotating
// JSON file when opts.File is set.
func NewCLILogger(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level, opts.Verbose)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), level),
	}

	if f := strings.TrimSpace(opts.File); f != "" {
		sink := &lumberjack.Logger{
			Filename:   f,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(sink), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if opts.AppName != "" {
		logger = logger.Named(opts.AppName)
	}
	return logger, nil
}

func parseLevel(s string, verbose bool) (zapcore.Level, error) {
	if verbose {
		return zapcore.DebugLevel, nil
	}
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
