// Package logging builds the process logger: JSON lines to a rotating file,
// with warnings and errors echoed to the terminal.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tcai793/datamanager/internal/config"
)

// New returns a logger writing to cfg.Path. Records at warn level and above
// are also printed to console. The returned closer flushes the log file.
func New(cfg config.LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	if cfg.Path == "" {
		return zerolog.Nop(), nil, fmt.Errorf("log path is required")
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	writers := []io.Writer{file}
	if console != nil {
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{Out: console, NoColor: true, TimeFormat: "15:04:05"}},
			Level:  zerolog.WarnLevel,
		})
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return log, file, nil
}
