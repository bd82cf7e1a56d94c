// Package logging builds the process logger: human-readable console output
// on stderr plus a rotated JSON log file under the XDG state directory.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Verbosity lowers the console level: 0 warn, 1 info, 2 or more debug.
	Verbosity int
	// Quiet raises the console level to error.
	Quiet bool
	// File overrides the log file location. Empty uses DefaultFile.
	File string
	// DisableFile turns off the file sink.
	DisableFile bool
	// Stderr receives console output. Defaults to os.Stderr.
	Stderr io.Writer
}

// DefaultFile is $XDG_STATE_HOME/vaultkeeper/vaultkeeper.log.
func DefaultFile() string {
	return filepath.Join(xdg.StateHome, "vaultkeeper", "vaultkeeper.log")
}

// New returns a logger writing to the console and, unless disabled, to a
// size-rotated log file. The returned cleanup flushes and closes the sinks.
func New(opts Options) (*zap.Logger, func(), error) {
	console := opts.Stderr
	if console == nil {
		console = os.Stderr
	}

	level := zapcore.WarnLevel
	switch {
	case opts.Quiet:
		level = zapcore.ErrorLevel
	case opts.Verbosity >= 2:
		level = zapcore.DebugLevel
	case opts.Verbosity == 1:
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), level),
	}

	var rotator *lumberjack.Logger
	if !opts.DisableFile {
		file := opts.File
		if file == "" {
			file = DefaultFile()
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, nil, err
		}
		rotator = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = logger.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return logger, cleanup, nil
}
