package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	logger = zerolog.New(io.Discard)
)

// Init directs the application log to the given file. Both the CLI and
// the dashboard write here; stdout stays free for command output and
// the TUI frame.
func Init(path string, level zerolog.Level) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(f).Level(level).With().Timestamp().Logger()
	return nil
}

func get() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func LogDebug(format string, args ...interface{}) {
	l := get()
	l.Debug().Msgf(format, args...)
}

func LogInfo(format string, args ...interface{}) {
	l := get()
	l.Info().Msgf(format, args...)
}

func LogWarn(format string, args ...interface{}) {
	l := get()
	l.Warn().Msgf(format, args...)
}

func LogError(format string, args ...interface{}) {
	l := get()
	l.Error().Msgf(format, args...)
}
