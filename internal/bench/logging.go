package bench

import (
	"io"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// NewLogger builds the command logger: human-readable output on console and,
// when file is set, JSON lines into a rotated log file. An unknown level
// falls back to info. The returned closer releases the log file.
func NewLogger(level, file string, console io.Writer) (zerolog.Logger, io.Closer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}

	var closer io.Closer = nopCloser{}
	if file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		writers = append(writers, rotated)
		closer = rotated
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
