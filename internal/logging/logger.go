package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Output goes to stderr; stdout is reserved
// for command summaries.
func New(environment, level string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}

	var writer io.Writer = os.Stderr
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(writer).
		Level(parsedLevel).
		With().
		Timestamp().
		Str("service", "corpusdedup").
		Logger()

	return logger, nil
}

// ForPass tags logger with the dedup pass and run it belongs to.
func ForPass(logger zerolog.Logger, pass, runID string) zerolog.Logger {
	ctx := logger.With().Str("pass", pass)
	if runID = strings.TrimSpace(runID); runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return ctx.Logger()
}
