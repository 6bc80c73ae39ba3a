// Package logging builds the daemon logger for the log mode selected on the
// command line.
package logging

import (
	"fmt"
	"log/syslog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ChronoCap/internal/config"
)

// Mode selects where log output is sent.
type Mode int

const (
	ModeTerminal Mode = iota
	ModeFile
	ModeSyslog
	ModeDisabled
)

// ParseMode maps the -l flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "stderr", "terminal":
		return ModeTerminal, nil
	case "file":
		return ModeFile, nil
	case "syslog":
		return ModeSyslog, nil
	case "disabled", "off", "none":
		return ModeDisabled, nil
	}
	return 0, fmt.Errorf("unexpected logmode: %s", s)
}

// New builds a SugaredLogger for the given mode. The file mode rotates via
// lumberjack using the limits from the logging config block.
func New(mode Mode, cfg config.LoggingConfig) (*zap.SugaredLogger, error) {
	switch mode {
	case ModeDisabled:
		return zap.NewNop().Sugar(), nil
	case ModeTerminal:
		core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
		return zap.New(core).Sugar(), nil
	case ModeFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("log mode 'file' requires logging.file to be set")
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: 3,
			Compress:   true,
		}
		core := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotator), zapcore.InfoLevel)
		return zap.New(core).Sugar(), nil
	case ModeSyslog:
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "chronocapd")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to syslog: %w", err)
		}
		core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(w), zapcore.InfoLevel)
		return zap.New(core).Sugar(), nil
	}
	return nil, fmt.Errorf("unknown log mode %d", mode)
}

func consoleEncoder() zapcore.Encoder {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}

func jsonEncoder() zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewJSONEncoder(encCfg)
}
